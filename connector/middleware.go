package connector

import (
	"context"

	"github.com/c360/agentmesh/envelope"
)

// Next continues the middleware chain with a (possibly replaced) envelope.
type Next func(ctx context.Context, e *envelope.Envelope) error

// Middleware wraps outbound envelope processing. Each middleware may
// inspect or replace the envelope before calling next, or short-circuit by
// returning an error without calling it. Middlewares run in registration
// order.
type Middleware func(ctx context.Context, e *envelope.Envelope, next Next) error

// runMiddleware threads the envelope through the chain, ending at final.
func runMiddleware(ctx context.Context, chain []Middleware, e *envelope.Envelope, final Next) error {
	if len(chain) == 0 {
		return final(ctx, e)
	}

	var build func(i int) Next
	build = func(i int) Next {
		if i == len(chain) {
			return final
		}
		return func(ctx context.Context, e *envelope.Envelope) error {
			return chain[i](ctx, e, build(i+1))
		}
	}
	return build(0)(ctx, e)
}
