package net

import (
	"context"
	"errors"
	"fmt"
)

// ConnectWithRetry calls Connect up to attempts times, paced by the
// configured retryRate. It stops early on success, on ErrInvalidState and
// when ctx is done, and returns the last error otherwise.
func (c *Client) ConnectWithRetry(ctx context.Context, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	pacer := newRetryPacer(c.Config().RetryRate)

	var err error
	for i := 1; i <= attempts; i++ {
		pacer.Take()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrConnectFailure, ctxErr)
		}

		err = c.Connect(ctx)
		if err == nil || errors.Is(err, ErrInvalidState) {
			return err
		}
		c.log().Warn().Err(err).Int("attempt", i).Int("attempts", attempts).Msg("connect attempt failed")
	}
	return err
}
