// Package handlers holds the built-in gateway handlers: a JSON 404
// responder and the health check endpoint. Both are stateless and emit
// fixed, byte-exact responses.
package handlers

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
)

const (
	notFoundBody    = `{"error": "Not Found"}`
	healthCheckBody = `{"status": "ok"}`
)

func jsonHeaders() []gateway.Header {
	return []gateway.Header{{Name: "content-type", Value: "application/json"}}
}

// NotFound replies 404 with a fixed JSON body for any scope.
func NotFound(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
	if err := send(ctx, gateway.ResponseStart{
		Status:  404,
		Headers: jsonHeaders(),
	}); err != nil {
		return err
	}
	return send(ctx, gateway.ResponseBody{Body: []byte(notFoundBody)})
}

// HealthCheck replies 200 with a fixed JSON body for any scope.
func HealthCheck(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
	if err := send(ctx, gateway.ResponseStart{
		Status:  200,
		Headers: jsonHeaders(),
	}); err != nil {
		return err
	}
	return send(ctx, gateway.ResponseBody{Body: []byte(healthCheckBody)})
}
