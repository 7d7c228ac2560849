package table_api_client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tablesync/go/internal/table/events"
)

type recorded struct {
	Path      string
	Auth      string
	RequestID string
	Body      map[string]any
}

type gameServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	hits     atomic.Int32
	status   int
	reply    string
}

func startGameServer(t *testing.T, status int, reply string) *gameServer {
	t.Helper()
	gs := &gameServer{status: status, reply: reply}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gs.hits.Add(1)
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)

		gs.mu.Lock()
		gs.requests = append(gs.requests, recorded{
			Path:      r.URL.Path,
			Auth:      r.Header.Get(AuthorizationHeader),
			RequestID: r.Header.Get(RequestIDHeader),
			Body:      body,
		})
		gs.mu.Unlock()

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(gs.status)
		_, _ = io.WriteString(w, gs.reply)
	}))
	t.Cleanup(gs.Close)
	return gs
}

func (gs *gameServer) Requests() []recorded {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return append([]recorded(nil), gs.requests...)
}

func TestActions_PostToGameEndpoints(t *testing.T) {
	gs := startGameServer(t, http.StatusOK, `{}`)
	c := NewTableApiClient(gs.URL, "secret")
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		path string
		body map[string]any
	}{
		{
			name: "fold",
			call: func() error { return c.Fold(ctx, "42", "me") },
			path: "/game/fold",
			body: map[string]any{"sessionId": "42", "userId": "me"},
		},
		{
			name: "check",
			call: func() error { return c.Check(ctx, "42", "me") },
			path: "/game/check",
			body: map[string]any{"sessionId": "42", "userId": "me"},
		},
		{
			name: "call carries amount even when zero",
			call: func() error { return c.Call(ctx, "42", "me", 0) },
			path: "/game/call",
			body: map[string]any{"sessionId": "42", "userId": "me", "amount": float64(0)},
		},
		{
			name: "raise",
			call: func() error { return c.Raise(ctx, "42", "me", 200) },
			path: "/game/raise",
			body: map[string]any{"sessionId": "42", "userId": "me", "amount": float64(200)},
		},
		{
			name: "invite",
			call: func() error { return c.Invite(ctx, "42", "me", "u7") },
			path: "/game/invite",
			body: map[string]any{"sessionId": "42", "userId": "me", "invitedUserId": "u7"},
		},
		{
			name: "swap",
			call: func() error { return c.Swap(ctx, "42", "me", 1) },
			path: "/game/swap",
			body: map[string]any{"sessionId": "42", "userId": "me", "cardIndex": float64(1)},
		},
		{
			name: "bluff cards",
			call: func() error { return c.BluffCards(ctx, "42", "me", events.Card{Rank: "Q", Suit: "HEARTS"}) },
			path: "/game/bluffCards",
			body: map[string]any{
				"sessionId": "42",
				"userId":    "me",
				"card":      map[string]any{"rank": "Q", "suit": "HEARTS"},
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())

			reqs := gs.Requests()
			require.Len(t, reqs, i+1)
			got := reqs[i]
			assert.Equal(t, tt.path, got.Path)
			assert.Equal(t, "Bearer secret", got.Auth)
			assert.Equal(t, tt.body, got.Body)

			_, err := uuid.Parse(got.RequestID)
			assert.NoError(t, err, "request id should be a uuid")
		})
	}
}

func TestActions_LobbyEndpoints(t *testing.T) {
	gs := startGameServer(t, http.StatusNoContent, ``)
	c := NewTableApiClient(gs.URL, "secret")
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "42", "me"))
	require.NoError(t, c.Start(ctx, "42", "me"))
	require.NoError(t, c.Leave(ctx, "42", "me"))

	var paths []string
	for _, r := range gs.Requests() {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"/game/join", "/game/start", "/game/leave"}, paths)
}

func TestActions_RejectedIsActionErrorWithoutRetry(t *testing.T) {
	gs := startGameServer(t, http.StatusConflict, `{"error":"not your turn"}`)
	c := NewTableApiClient(gs.URL, "secret")

	err := c.Raise(context.Background(), "42", "me", 50)

	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr), "expected ActionError, got %v", err)
	assert.Equal(t, ActionRaise, actionErr.Action)
	assert.Equal(t, http.StatusConflict, actionErr.StatusCode)
	assert.Equal(t, `{"error":"not your turn"}`, actionErr.Body)
	assert.Contains(t, actionErr.Error(), "409")
	assert.Equal(t, int32(1), gs.hits.Load(), "actions are at-most-once")
}

func TestActions_TransportFailureIsActionError(t *testing.T) {
	gs := startGameServer(t, http.StatusOK, ``)
	url := gs.URL
	gs.Close()

	c := NewTableApiClient(url, "secret")
	err := c.Fold(context.Background(), "42", "me")

	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, 0, actionErr.StatusCode)
	assert.NotNil(t, actionErr.Unwrap())
}

func TestFireForceFold_OutlivesCaller(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		assert.Equal(t, "/game/forceFold", r.URL.Path)
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewTableApiClient(srv.URL, "secret")

	// returns immediately even though the server is still holding the request
	c.FireForceFold("42", "me")

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(short), context.DeadlineExceeded)

	close(release)
	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFireForceFold_FailureIsSwallowed(t *testing.T) {
	gs := startGameServer(t, http.StatusInternalServerError, `boom`)
	c := NewTableApiClient(gs.URL, "secret")

	c.FireForceFold("42", "me")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, int32(1), gs.hits.Load())
}

func TestFireForceFold_DroppedOnceDraining(t *testing.T) {
	gs := startGameServer(t, http.StatusOK, `{}`)
	c := NewTableApiClient(gs.URL, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	c.FireForceFold("42", "me")

	require.NoError(t, c.Wait(ctx))
	assert.Zero(t, gs.hits.Load())
}

func TestFireForceFold_ConcurrentWithWait(t *testing.T) {
	gs := startGameServer(t, http.StatusOK, `{}`)
	c := NewTableApiClient(gs.URL, "secret")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.FireForceFold("42", "me")
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	wg.Wait()

	// every fold that got in before draining has finished
	require.NoError(t, c.Wait(ctx))
	assert.LessOrEqual(t, gs.hits.Load(), int32(8))
}
