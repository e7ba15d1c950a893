package requester

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Breaker tracks upstream health per host.
type Breaker interface {
	AllowRequest(ctx context.Context, host string) (string, bool)
	RecordSuccess(ctx context.Context, host string)
	RecordFailure(ctx context.Context, host string)
}

// CircuitOpenError is returned without contacting host while its circuit
// is open.
type CircuitOpenError struct {
	Host  string
	State string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s for %s", e.State, e.Host)
}

// Guarded is a Requester that consults a Breaker before each call.
// Network failures and 5xx responses count against the host; any other
// outcome, including a 4xx, counts as healthy.
type Guarded struct {
	next    Requester
	breaker Breaker
}

func WithBreaker(next Requester, breaker Breaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return g.next.Do(ctx, req)
	}
	host := u.Host

	if state, ok := g.breaker.AllowRequest(ctx, host); !ok {
		return nil, &CircuitOpenError{Host: host, State: state}
	}

	resp, err := g.next.Do(ctx, req)
	switch {
	case err == nil:
		g.breaker.RecordSuccess(ctx, host)
	case errors.Is(err, context.Canceled):
		// The caller gave up; says nothing about the host.
	case StatusCode(err) == 0 || StatusCode(err) >= 500:
		g.breaker.RecordFailure(ctx, host)
	default:
		g.breaker.RecordSuccess(ctx, host)
	}
	return resp, err
}

// IsCircuitOpen reports whether err was produced by an open circuit.
func IsCircuitOpen(err error) bool {
	var circuitErr *CircuitOpenError
	return errors.As(err, &circuitErr)
}
