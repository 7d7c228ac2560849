package table_api_client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tablesync/go/clients"
)

type TableApiClient struct {
	*clients.BaseClient

	durableTimeout time.Duration

	// mu orders inflight.Add against Wait
	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func NewTableApiClient(baseURL, token string) *TableApiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &TableApiClient{
		BaseClient:     clients.NewBaseClient(baseURL),
		durableTimeout: 10 * time.Second,
	}

	client.SetHeader(AuthorizationHeader, "Bearer "+token)

	return client
}

// SetDurableTimeout bounds how long a detached request may run
func (c *TableApiClient) SetDurableTimeout(timeout time.Duration) {
	c.durableTimeout = timeout
}

// do posts body to the action endpoint exactly once
func (c *TableApiClient) do(ctx context.Context, action Action, body any) error {
	requestID := uuid.New().String()

	_, err := c.PostJSON(ctx, action.Endpoint(), body, map[string]string{RequestIDHeader: requestID})
	if err != nil {
		actionErr := newActionError(action, err)
		log.Error().
			Err(actionErr).
			Str("action", string(action)).
			Str("request_id", requestID).
			Int("status_code", actionErr.StatusCode).
			Str("response", actionErr.Body).
			Msg("game action failed")
		return actionErr
	}

	log.Debug().
		Str("action", string(action)).
		Str("request_id", requestID).
		Msg("game action accepted")
	return nil
}
