// Команда place-order — консольный клиент StorefrontService.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
)

const (
	idempotencyHeader = "idempotency-key"
	defaultAddr       = "localhost:50051"
	defaultTimeout    = 5 * time.Second
)

// dialFunc открывает соединение с сервисом.
type dialFunc func(addr string) (storefrontv1.StorefrontServiceClient, io.Closer, error)

func dialGRPC(addr string) (storefrontv1.StorefrontServiceClient, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return storefrontv1.NewStorefrontServiceClient(conn), conn, nil
}

func main() {
	if err := newApp(os.Stdout, dialGRPC).Run(os.Args); err != nil {
		log.WithError(err).Fatal("place-order failed")
	}
}

func newApp(out io.Writer, dial dialFunc) *cli.App {
	return &cli.App{
		Name:      "place-order",
		Usage:     "create and inspect storefront orders over gRPC",
		Writer:    out,
		ErrWriter: io.Discard,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   defaultAddr,
				Usage:   "storefront gRPC address",
				EnvVars: []string{"STOREFRONT_GRPC_ADDR"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: defaultTimeout,
				Usage: "per-call timeout",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "place an order",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "customer", Aliases: []string{"c"}, Required: true, Usage: "customer id"},
					&cli.StringSliceFlag{Name: "product", Aliases: []string{"p"}, Required: true, Usage: "product as id:qty, repeatable"},
					&cli.StringFlag{Name: "idempotency-key", Usage: "idempotency key; generated when empty"},
				},
				Action: withClient(dial, createOrder),
			},
			{
				Name:   "get",
				Usage:  "show an order",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Required: true, Usage: "order id"}},
				Action: withClient(dial, getOrder),
			},
			{
				Name:  "list",
				Usage: "list orders of a customer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "customer", Aliases: []string{"c"}, Required: true, Usage: "customer id"},
					&cli.IntFlag{Name: "page-size", Value: 20, Usage: "max orders to return"},
				},
				Action: withClient(dial, listOrders),
			},
		},
	}
}

type commandFunc func(ctx context.Context, c *cli.Context, client storefrontv1.StorefrontServiceClient) (any, error)

// withClient открывает соединение, вызывает команду и печатает ответ в JSON.
func withClient(dial dialFunc, fn commandFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		client, closer, err := dial(c.String("addr"))
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()

		resp, err := fn(ctx, c, client)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
}

func createOrder(ctx context.Context, c *cli.Context, client storefrontv1.StorefrontServiceClient) (any, error) {
	products, err := parseProducts(c.StringSlice("product"))
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(c.String("idempotency-key"))
	if key == "" {
		key = uuid.NewString()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)

	resp, err := client.CreateOrder(ctx, &storefrontv1.CreateOrderRequest{
		CustomerId: c.String("customer"),
		Products:   products,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return resp.GetOrder(), nil
}

func getOrder(ctx context.Context, c *cli.Context, client storefrontv1.StorefrontServiceClient) (any, error) {
	resp, err := client.GetOrder(ctx, &storefrontv1.GetOrderRequest{OrderId: c.String("id")})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return resp.GetOrder(), nil
}

func listOrders(ctx context.Context, c *cli.Context, client storefrontv1.StorefrontServiceClient) (any, error) {
	resp, err := client.ListOrders(ctx, &storefrontv1.ListOrdersRequest{
		CustomerId: c.String("customer"),
		PageSize:   int32(c.Int("page-size")),
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return resp.GetOrders(), nil
}

// parseProducts разбирает значения вида "id:qty"; без ":qty" количество равно 1.
func parseProducts(values []string) ([]*storefrontv1.ProductQuantity, error) {
	products := make([]*storefrontv1.ProductQuantity, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		id, qtyRaw, hasQty := strings.Cut(raw, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("product %q: empty id", raw)
		}

		qty := int64(1)
		if hasQty {
			parsed, err := strconv.ParseInt(strings.TrimSpace(qtyRaw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("product %q: invalid quantity: %w", raw, err)
			}
			qty = parsed
		}
		products = append(products, &storefrontv1.ProductQuantity{ProductId: id, Quantity: qty})
	}

	if len(products) == 0 {
		return nil, errors.New("at least one product is required")
	}
	return products, nil
}
