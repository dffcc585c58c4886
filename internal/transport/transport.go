// Package transport reaches the merchant backend. Implementations return the bare business payload.
package transport

import (
	"context"
	"encoding/json"
	"net/url"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
)

// Client is the HTTP collaborator strategies use to sign orders and query status.
type Client interface {
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// GetJSON performs a GET and decodes the payload into T.
func GetJSON[T any](ctx context.Context, c Client, path string, query url.Values) (T, error) {
	var out T
	raw, err := c.Get(ctx, path, query)
	if err != nil {
		return out, err
	}
	return decode[T](raw)
}

// PostJSON performs a POST and decodes the payload into T.
func PostJSON[T any](ctx context.Context, c Client, path string, body any) (T, error) {
	var out T
	raw, err := c.Post(ctx, path, body)
	if err != nil {
		return out, err
	}
	return decode[T](raw)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, domainErrors.Wrap(domainErrors.KindGatewayError, "malformed response payload", err)
	}
	return out, nil
}
