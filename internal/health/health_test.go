package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", ok))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 || !response.Checks["storage"].Critical {
		t.Errorf("unexpected checks: %+v", response.Checks)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
	if response.Checks["storage"].Message != "connection refused" {
		t.Errorf("unexpected message: %q", response.Checks["storage"].Message)
	}
}

func TestHealthHandler_OptionalFailureDegrades(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", ok))
	handler.RegisterChecker("kafka", NewOptionalChecker("kafka", func(context.Context) error {
		return errors.New("no brokers")
	}))

	response := handler.Run(context.Background())
	if response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("degraded service must stay ready, got %d", w.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", ok))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handler.ReadinessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ready" {
		t.Errorf("expected body 'ready', got %s", w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewSimpleChecker("storage", func(context.Context) error {
		return errors.New("not ready")
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handler.ReadinessHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("expected body 'not ready', got %s", w.Body.String())
	}
}

func TestSimpleChecker_TimesOut(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewSimpleChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	response := handler.Run(context.Background())
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy on timeout, got %s", response.Status)
	}
}

func TestSimpleChecker(t *testing.T) {
	checker := NewSimpleChecker("test", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check(context.Background())

	if check.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", check.Status)
	}
	if check.DurationMs < 10 {
		t.Errorf("expected duration >= 10ms, got %dms", check.DurationMs)
	}
}

func TestHandlerRun_ChecksRunConcurrently(t *testing.T) {
	handler := NewHandler("v1.0.0")

	// каждая проверка ждёт, пока стартуют обе
	var arrived sync.WaitGroup
	arrived.Add(2)
	barrier := func(ctx context.Context) error {
		arrived.Done()
		done := make(chan struct{})
		go func() {
			arrived.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	handler.RegisterChecker("storage", NewSimpleChecker("storage", barrier))
	handler.RegisterChecker("kafka", NewSimpleChecker("kafka", barrier))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	response := handler.Run(ctx)

	if response.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s: %+v", response.Status, response.Checks)
	}
	if len(response.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(response.Checks))
	}
}
