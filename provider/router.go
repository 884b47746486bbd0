package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Router dispatches each role to its configured client and retries on the
// fallback client when the primary fails before producing any output.
type Router struct {
	routes   map[Role]Client
	fallback Client
	logger   *zap.Logger
}

// NewRouter builds a router. Roles without a route use the fallback.
func NewRouter(routes map[Role]Client, fallback Client, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{routes: make(map[Role]Client, len(routes)), fallback: fallback, logger: logger}
	for role, c := range routes {
		if c != nil {
			r.routes[role] = c
		}
	}
	for _, role := range Roles() {
		if r.clientFor(role) == nil {
			return nil, fmt.Errorf("no client routed for role %s", role)
		}
	}
	return r, nil
}

func (r *Router) clientFor(role Role) Client {
	if c, ok := r.routes[role]; ok {
		return c
	}
	return r.fallback
}

// Invoke implements Gateway.
func (r *Router) Invoke(ctx context.Context, req Request, onToken TokenFunc) (Response, error) {
	primary := r.clientFor(req.Role)
	if primary == nil {
		return Response{}, &GatewayError{Provider: "router", Model: string(req.Role), Err: errors.New("no client for role")}
	}

	emitted := false
	track := onToken
	if onToken != nil {
		track = func(chunk string) {
			emitted = true
			onToken(chunk)
		}
	}

	start := time.Now()
	resp, err := primary.Invoke(ctx, req, track)
	if err == nil {
		resp.Latency = time.Since(start)
		return resp, nil
	}
	err = Wrap(primary.Name(), "", 0, err)

	if !r.shouldFallback(ctx, primary, err, emitted) {
		return Response{}, err
	}
	r.logger.Warn("primary model failed, using fallback",
		zap.String("role", string(req.Role)),
		zap.String("primary", primary.Name()),
		zap.String("fallback", r.fallback.Name()),
		zap.Error(err))

	start = time.Now()
	resp, ferr := r.fallback.Invoke(ctx, req, onToken)
	if ferr != nil {
		return Response{}, Wrap(r.fallback.Name(), "", 0, ferr)
	}
	resp.Latency = time.Since(start)
	return resp, nil
}

func (r *Router) shouldFallback(ctx context.Context, primary Client, err error, emitted bool) bool {
	if r.fallback == nil || r.fallback == primary || emitted || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
