package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// withIdempotency оборачивает handler: первый вызов с ключом выполняется,
// повторы получают сохранённый ответ или ошибку.
func withIdempotency[T any](
	s *StorefrontService,
	ctx context.Context,
	method string,
	req any,
	newResp func() T,
	handler func(context.Context) (T, error),
) (T, error) {
	var zero T

	if s.idemRepo == nil {
		return handler(ctx)
	}

	idemKey, err := readIdempotencyKey(ctx)
	if err != nil {
		return zero, err
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(ctx, idemKey, reqHash, time.Now().UTC().Add(idempotencyTTL))
	if err != nil {
		return replayIdempotency(s, err, record, newResp)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		if terminalFailure(runErr) {
			s.cacheIdempotencyFailure(ctx, idemKey, runErr)
		} else {
			s.releaseIdempotencyKey(ctx, idemKey)
		}
		return resp, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, idemKey, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", idemKey).Warn("failed to store idempotent success response")
	}

	return resp, nil
}

func replayIdempotency[T any](
	s *StorefrontService,
	createErr error,
	record domain.IdempotencyRecord,
	newResp func() T,
) (T, error) {
	var zero T

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return zero, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			if len(record.ResponseBody) == 0 {
				return zero, status.Error(codes.Internal, "idempotency cache is empty")
			}
			resp := newResp()
			if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return zero, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return zero, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return zero, decodeIdempotencyFailure(record)
		default:
			return zero, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return zero, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *StorefrontService) cacheIdempotencySuccess(ctx context.Context, key string, resp any) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.idemRepo.MarkDone(ctx, key, data, int(codes.OK))
}

func (s *StorefrontService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	// Отменённый клиентом контекст не должен мешать сохранить результат.
	if err := s.idemRepo.MarkFailed(context.WithoutCancel(ctx), key, payload, int(code)); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

// terminalFailure сообщает, что повтор с тем же запросом даст тот же отказ.
// Инфраструктурные ошибки и отмена не кэшируются.
func terminalFailure(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
		return true
	default:
		return false
	}
}

func (s *StorefrontService) releaseIdempotencyKey(ctx context.Context, key string) {
	if err := s.idemRepo.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCode(int64(payload.Code)); ok {
				if code == codes.OK {
					code = codes.Internal
				}
				if payload.Message == "" {
					payload.Message = "previous request with the same idempotency key failed"
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if record.StatusCode > 0 {
		if code, ok := grpcCode(int64(record.StatusCode)); ok && code != codes.OK {
			return status.Error(code, "previous request with the same idempotency key failed")
		}
	}

	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func grpcCode(value int64) (codes.Code, bool) {
	if value < int64(codes.OK) || value > int64(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

// buildIdempotencyRequestHash считает sha256 от имени метода и JSON запроса.
// encoding/json сериализует поля структуры в фиксированном порядке.
func buildIdempotencyRequestHash(method string, req any) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
