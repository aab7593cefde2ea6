package ident

import (
	"context"
	"time"
)

// Correlator finds other handles that belong to the same person, typically by
// asking a remote identity service.
type Correlator interface {
	Correlate(ctx context.Context, handle string) ([]string, error)
}

// Correlate asks c for handles related to handle, waiting at most timeout.
// A timeout or error is reported as no correlation. The call returns on
// timeout even when c ignores its context.
func Correlate(ctx context.Context, c Correlator, handle string, timeout time.Duration) []string {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		handles []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		h, err := c.Correlate(ctx, handle)
		done <- result{h, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil
		}
		return r.handles
	case <-ctx.Done():
		return nil
	}
}
