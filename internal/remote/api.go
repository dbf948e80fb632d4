// Package remote is the client side of the Remote API that pending actions are replayed against.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/kimhsiao/fieldcount/backend/internal/models"
)

//go:generate mockgen -source=api.go -destination=mock_api.go -package=remote

// API is the Remote API. Every mutating call carries an idempotency key so the
// server can discard redelivered actions.
type API interface {
	Get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error)
	Create(ctx context.Context, endpoint string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Update(ctx context.Context, endpoint string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error)
	Delete(ctx context.Context, endpoint string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error)
}

// Dispatch calls the API operation matching kind.
func Dispatch(ctx context.Context, api API, kind models.ActionKind, endpoint string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	switch kind {
	case models.ActionCreate:
		return api.Create(ctx, endpoint, payload, idempotencyKey)
	case models.ActionUpdate:
		return api.Update(ctx, endpoint, payload, idempotencyKey)
	case models.ActionDelete:
		return api.Delete(ctx, endpoint, payload, idempotencyKey)
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
}
