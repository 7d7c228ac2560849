package table_api_client

import (
	"context"

	"github.com/rs/zerolog/log"
)

// FireForceFold posts /game/forceFold on a detached context and returns at
// once. The request runs to completion (bounded by the durable timeout) even
// if the caller's context is gone; its outcome is only logged. Once Wait has
// been called the client is draining and further force-folds are dropped.
func (c *TableApiClient) FireForceFold(sessionID, userID string) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		log.Warn().
			Str("session_id", sessionID).
			Str("user_id", userID).
			Msg("client is draining, force fold dropped")
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.durableTimeout)
		defer cancel()

		_ = c.do(ctx, ActionForceFold, ActionRequest{SessionID: sessionID, UserID: userID})
	}()
}

// Wait stops new detached requests and blocks until the running ones have
// finished or ctx is done. It may be called more than once.
func (c *TableApiClient) Wait(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
