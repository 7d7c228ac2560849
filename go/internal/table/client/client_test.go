package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tablesync/go/internal/table/events"
	"github.com/mcdev12/tablesync/go/internal/table/gateway"
	"github.com/mcdev12/tablesync/go/internal/table/relay"
	"github.com/mcdev12/tablesync/go/internal/table/state"
	"github.com/mcdev12/tablesync/go/internal/table/watchdog"
)

const within = time.Second

// ---------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------

type fakeConn struct {
	mu        sync.Mutex
	ready     chan struct{}
	connects  []gateway.Channel
	sent      []string
	listeners map[gateway.ListenerID]gateway.Listener
	nextID    int
	closed    bool
}

func newFakeConn(open bool) *fakeConn {
	c := &fakeConn{
		ready:     make(chan struct{}),
		listeners: make(map[gateway.ListenerID]gateway.Listener),
	}
	if open {
		close(c.ready)
	}
	return c
}

func (c *fakeConn) Connect(channel gateway.Channel, _, _, _ string) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = append(c.connects, channel)
	return c.ready, nil
}

func (c *fakeConn) Send(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, string(payload))
}

func (c *fakeConn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Send(data)
	return nil
}

func (c *fakeConn) AddListener(l gateway.Listener) gateway.ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := gateway.ListenerID(fmt.Sprint(c.nextID))
	c.listeners[id] = l
	return id
}

func (c *fakeConn) RemoveListener(id gateway.ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// deliver pushes one inbound message through every listener
func (c *fakeConn) deliver(raw string) {
	c.mu.Lock()
	targets := make([]gateway.Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		targets = append(targets, l)
	}
	c.mu.Unlock()
	for _, l := range targets {
		l([]byte(raw))
	}
}

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) ListenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

type apiCall struct {
	Action string
	Args   []any
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	joinErr error
}

func (a *fakeAPI) record(action string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, apiCall{Action: action, Args: args})
}

func (a *fakeAPI) Calls() []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]apiCall(nil), a.calls...)
}

func (a *fakeAPI) Join(_ context.Context, s, u string) error {
	a.record("join", s, u)
	return a.joinErr
}
func (a *fakeAPI) Start(_ context.Context, s, u string) error { a.record("start", s, u); return nil }
func (a *fakeAPI) Leave(_ context.Context, s, u string) error { a.record("leave", s, u); return nil }
func (a *fakeAPI) Fold(_ context.Context, s, u string) error  { a.record("fold", s, u); return nil }
func (a *fakeAPI) Check(_ context.Context, s, u string) error { a.record("check", s, u); return nil }
func (a *fakeAPI) Call(_ context.Context, s, u string, amount int64) error {
	a.record("call", s, u, amount)
	return nil
}
func (a *fakeAPI) Raise(_ context.Context, s, u string, amount int64) error {
	a.record("raise", s, u, amount)
	return nil
}
func (a *fakeAPI) Invite(_ context.Context, s, u, invited string) error {
	a.record("invite", s, u, invited)
	return nil
}
func (a *fakeAPI) Swap(_ context.Context, s, u string, idx int) error {
	a.record("swap", s, u, idx)
	return nil
}
func (a *fakeAPI) BluffCards(_ context.Context, s, u string, card events.Card) error {
	a.record("bluffCards", s, u, card)
	return nil
}

type fakeFirer struct {
	mu    sync.Mutex
	fired int
}

func (f *fakeFirer) FireForceFold(string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired++
}

func (f *fakeFirer) Fired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []relay.StateUpdate
}

func (p *fakePublisher) Publish(_ context.Context, u relay.StateUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) Causes() []events.Tag {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Tag
	for _, u := range p.updates {
		out = append(out, u.Cause)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LobbyID = "42"
	cfg.UserID = "me"
	cfg.Token = "tok"
	return cfg
}

const gameModelRequest = `{"event":"GAMEMODEL","gameID":"42"}`

func roundJSON(turnOwner string) string {
	return fmt.Sprintf(`{"event":"ROUNDMODEL","player":{"userId":"me"},"otherPlayers":[{"userId":"u2"}],"turnOwnerId":%q}`, turnOwner)
}

// ---------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------

func TestJoin_RepeatsGameModelRequestExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	game := newFakeConn(true)
	api := &fakeAPI{}
	c := New(testConfig(), game, api, WithClock(clock))
	t.Cleanup(c.Close)

	require.NoError(t, c.Join(context.Background()))

	assert.Equal(t, []apiCall{{Action: "join", Args: []any{"42", "me"}}}, api.Calls())
	assert.Equal(t, []gateway.Channel{gateway.ChannelGame}, game.connects)
	require.Equal(t, []string{gameModelRequest}, game.Sent())

	clock.Advance(4999 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, game.Sent(), 1)

	clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return len(game.Sent()) == 2 }, within, 5*time.Millisecond)
	assert.Equal(t, gameModelRequest, game.Sent()[1])

	// no further retries, however long the model takes
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, game.Sent(), 2)
}

func TestJoin_NoRepeatOnceGameModelArrives(t *testing.T) {
	clock := clockwork.NewFakeClock()
	game := newFakeConn(true)
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clock))
	t.Cleanup(c.Close)

	require.NoError(t, c.Join(context.Background()))
	game.deliver(`{"event":"GAMEMODEL","lobbyId":"42","ownerId":"me","players":[{"userId":"me"}]}`)
	require.True(t, c.Machine().HasGameModel())

	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, game.Sent(), 1)
	assert.Equal(t, "me", c.Snapshot().OwnerID)
}

func TestJoin_RestFailureSkipsConnect(t *testing.T) {
	game := newFakeConn(true)
	api := &fakeAPI{joinErr: errors.New("lobby full")}
	c := New(testConfig(), game, api, WithClock(clockwork.NewFakeClock()))
	t.Cleanup(c.Close)

	err := c.Join(context.Background())

	assert.ErrorIs(t, err, api.joinErr)
	assert.Empty(t, game.connects)
	assert.Empty(t, game.Sent())
}

func TestJoin_ContextCancelledBeforeOpen(t *testing.T) {
	game := newFakeConn(false)
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clockwork.NewFakeClock()))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Join(ctx), context.DeadlineExceeded)
	assert.Empty(t, game.Sent())
}

func TestTurnOwnershipDrivesWatchdog(t *testing.T) {
	clock := clockwork.NewFakeClock()
	game := newFakeConn(true)
	api := &fakeAPI{}
	c := New(testConfig(), game, api, WithClock(clock))
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	game.deliver(roundJSON("u2"))
	_, running := c.Watchdog().Deadline()
	assert.False(t, running)

	game.deliver(roundJSON("me"))
	deadline, running := c.Watchdog().Deadline()
	require.True(t, running)
	assert.Equal(t, clock.Now().Add(30*time.Second), deadline)

	clock.Advance(10 * time.Second)
	c.Activity(watchdog.ActivityPointer)
	clock.Advance(25 * time.Second)
	time.Sleep(20 * time.Millisecond)
	for _, call := range api.Calls() {
		assert.NotEqual(t, "fold", call.Action, "activity should have pushed the deadline out")
	}

	clock.Advance(5 * time.Second)
	assert.Eventually(t, func() bool {
		for _, call := range api.Calls() {
			if call.Action == "fold" {
				return true
			}
		}
		return false
	}, within, 5*time.Millisecond)

	// turn passes on, deadline is gone
	game.deliver(roundJSON("u2"))
	_, running = c.Watchdog().Deadline()
	assert.False(t, running)
}

func TestPreGameEndsTurn(t *testing.T) {
	game := newFakeConn(true)
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clockwork.NewFakeClock()))
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	game.deliver(`{"event":"GAMESTATECHANGED","state":"IN_GAME"}`)
	game.deliver(roundJSON("me"))
	_, running := c.Watchdog().Deadline()
	require.True(t, running)

	game.deliver(`{"event":"GAMESTATECHANGED","state":"PRE_GAME"}`)
	_, running = c.Watchdog().Deadline()
	assert.False(t, running)
	assert.Nil(t, c.Snapshot().Round)
}

func TestUnload_FiresForceFoldDuringTurn(t *testing.T) {
	game := newFakeConn(true)
	firer := &fakeFirer{}
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clockwork.NewFakeClock()), WithDurableFirer(firer))
	require.NoError(t, c.Join(context.Background()))
	game.deliver(roundJSON("me"))

	c.Unload()

	assert.Equal(t, 1, firer.Fired())
	assert.True(t, game.closed)
	assert.Zero(t, game.ListenerCount())
}

func TestLeaveEvent_StopsWatchdogAndNotifies(t *testing.T) {
	game := newFakeConn(true)
	var reason string
	c := New(testConfig(), game, &fakeAPI{},
		WithClock(clockwork.NewFakeClock()),
		WithHooks(state.Hooks{OnLeave: func(r string) { reason = r }}),
	)
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))
	game.deliver(roundJSON("me"))

	game.deliver(`{"event":"LEAVE","reason":"kicked"}`)

	assert.Equal(t, "kicked", reason)
	assert.True(t, c.Snapshot().Ended)
	_, running := c.Watchdog().Deadline()
	assert.False(t, running)
}

func TestStateUpdatesAreRelayed(t *testing.T) {
	game := newFakeConn(true)
	pub := &fakePublisher{}
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clockwork.NewFakeClock()), WithPublisher(pub))
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	game.deliver(`{"event":"GAMESTATECHANGED","state":"IN_GAME"}`)
	game.deliver(`{"event":"FOO"}`)
	game.deliver(roundJSON("u2"))

	assert.Equal(t, []events.Tag{events.TagGameStateChanged, events.TagRoundModel}, pub.Causes())
}

func TestActionsCarryIdentity(t *testing.T) {
	api := &fakeAPI{}
	c := New(testConfig(), newFakeConn(true), api, WithClock(clockwork.NewFakeClock()))
	t.Cleanup(c.Close)
	ctx := context.Background()

	require.NoError(t, c.Check(ctx))
	require.NoError(t, c.Call(ctx, 40))
	require.NoError(t, c.Raise(ctx, 100))
	require.NoError(t, c.Fold(ctx))
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Invite(ctx, "u9"))
	require.NoError(t, c.Swap(ctx, 1))
	require.NoError(t, c.BluffCards(ctx, events.Card{Rank: "A", Suit: "SPADES"}))

	assert.Equal(t, []apiCall{
		{Action: "check", Args: []any{"42", "me"}},
		{Action: "call", Args: []any{"42", "me", int64(40)}},
		{Action: "raise", Args: []any{"42", "me", int64(100)}},
		{Action: "fold", Args: []any{"42", "me"}},
		{Action: "start", Args: []any{"42", "me"}},
		{Action: "invite", Args: []any{"42", "me", "u9"}},
		{Action: "swap", Args: []any{"42", "me", 1}},
		{Action: "bluffCards", Args: []any{"42", "me", events.Card{Rank: "A", Suit: "SPADES"}}},
	}, api.Calls())
}

func TestLeave_CallsAPIAndCloses(t *testing.T) {
	game := newFakeConn(true)
	api := &fakeAPI{}
	c := New(testConfig(), game, api, WithClock(clockwork.NewFakeClock()))

	require.NoError(t, c.Leave(context.Background()))

	assert.Equal(t, "leave", api.Calls()[0].Action)
	assert.True(t, game.closed)
}

func TestChat(t *testing.T) {
	game := newFakeConn(true)
	chat := newFakeConn(true)
	got := make(chan events.ChatMessage, 1)
	c := New(testConfig(), game, &fakeAPI{},
		WithClock(clockwork.NewFakeClock()),
		WithChatConn(chat),
		WithChatHandler(func(m events.ChatMessage) { got <- m }),
	)
	t.Cleanup(c.Close)

	require.NoError(t, c.ConnectChat(context.Background()))
	assert.Equal(t, []gateway.Channel{gateway.ChannelChat}, chat.connects)

	chat.deliver(`{"event":"CHAT","userId":"u2","username":"bo","message":"nice hand"}`)
	select {
	case m := <-got:
		assert.Equal(t, "nice hand", m.Message)
	case <-time.After(within):
		t.Fatal("chat handler not called")
	}

	require.NoError(t, c.Chat("thanks"))
	require.Len(t, chat.Sent(), 1)
	assert.JSONEq(t, `{"event":"CHAT","userId":"me","message":"thanks"}`, chat.Sent()[0])
}

func TestChat_WithoutConnection(t *testing.T) {
	c := New(testConfig(), newFakeConn(true), &fakeAPI{}, WithClock(clockwork.NewFakeClock()))
	t.Cleanup(c.Close)

	assert.ErrorIs(t, c.Chat("hi"), ErrNoChat)
	assert.ErrorIs(t, c.ConnectChat(context.Background()), ErrNoChat)
}

// streetJSON is a ROUNDMODEL with board community cards and the given pot
func streetJSON(turnOwner string, board int, pot int64) string {
	cards := make([]events.Card, board)
	for i := range cards {
		cards[i] = events.Card{Rank: fmt.Sprint(i + 2), Suit: "CLUBS"}
	}
	data, _ := json.Marshal(cards)
	return fmt.Sprintf(`{"event":"ROUNDMODEL","player":{"userId":"me"},"otherPlayers":[{"userId":"u2"}],"communityCards":%s,"potSize":%d,"turnOwnerId":%q}`,
		data, pot, turnOwner)
}

func foldCount(api *fakeAPI) int {
	n := 0
	for _, call := range api.Calls() {
		if call.Action == "fold" {
			n++
		}
	}
	return n
}

func TestConsecutiveTurnsGetFreshDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	game := newFakeConn(true)
	api := &fakeAPI{}
	c := New(testConfig(), game, api, WithClock(clock))
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	// big blind checks preflop and is first to act on the flop
	game.deliver(streetJSON("me", 0, 40))
	clock.Advance(20 * time.Second)
	require.NoError(t, c.Check(context.Background()))

	deadline, running := c.Watchdog().Deadline()
	require.True(t, running)
	assert.Equal(t, start.Add(50*time.Second), deadline, "sending a move counts as activity")

	clock.Advance(5 * time.Second)
	game.deliver(streetJSON("me", 3, 40))

	deadline, running = c.Watchdog().Deadline()
	require.True(t, running)
	assert.Equal(t, start.Add(55*time.Second), deadline)

	clock.Advance(29 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, foldCount(api))

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return foldCount(api) == 1 }, within, 5*time.Millisecond)
}

func TestTurnBackAfterOwnMoveRestartsDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	game := newFakeConn(true)
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clock))
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	game.deliver(streetJSON("me", 3, 40))
	clock.Advance(20 * time.Second)
	require.NoError(t, c.Raise(context.Background(), 80))

	// same board and pot, but we already moved, so this is a new turn
	clock.Advance(5 * time.Second)
	game.deliver(streetJSON("me", 3, 40))

	deadline, running := c.Watchdog().Deadline()
	require.True(t, running)
	assert.Equal(t, start.Add(55*time.Second), deadline)
}

func TestTurnBackOnNewStreetRestartsDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	game := newFakeConn(true)
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clock))
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	game.deliver(streetJSON("me", 3, 40))
	clock.Advance(20 * time.Second)
	game.deliver(streetJSON("me", 4, 120))

	deadline, running := c.Watchdog().Deadline()
	require.True(t, running)
	assert.Equal(t, start.Add(50*time.Second), deadline)
}

func TestRedeliveredRoundKeepsDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	game := newFakeConn(true)
	c := New(testConfig(), game, &fakeAPI{}, WithClock(clock))
	t.Cleanup(c.Close)
	require.NoError(t, c.Join(context.Background()))

	game.deliver(streetJSON("me", 3, 40))
	clock.Advance(10 * time.Second)
	game.deliver(streetJSON("me", 3, 40))
	game.deliver(`{"event":"SHOW_VOTE_MAP_BUTTON"}`)

	deadline, running := c.Watchdog().Deadline()
	require.True(t, running)
	assert.Equal(t, start.Add(30*time.Second), deadline)
}
