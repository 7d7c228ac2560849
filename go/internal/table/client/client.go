package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tablesync/go/internal/table/events"
	"github.com/mcdev12/tablesync/go/internal/table/gateway"
	"github.com/mcdev12/tablesync/go/internal/table/relay"
	"github.com/mcdev12/tablesync/go/internal/table/state"
	"github.com/mcdev12/tablesync/go/internal/table/watchdog"
)

// ErrConnectTimeout is returned when the socket does not open in time
var ErrConnectTimeout = errors.New("timed out waiting for socket to open")

// ErrNoChat is returned by chat calls when no chat connection was configured
var ErrNoChat = errors.New("no chat connection configured")

// Conn is the connection manager surface the client drives
type Conn interface {
	Connect(channel gateway.Channel, sessionID, token, userID string) (<-chan struct{}, error)
	Send(payload []byte)
	SendJSON(v any) error
	AddListener(l gateway.Listener) gateway.ListenerID
	RemoveListener(id gateway.ListenerID)
	Close() error
}

// Config holds configuration for one seat at one table
type Config struct {
	LobbyID             string
	UserID              string
	Token               string
	ConnectTimeout      time.Duration
	GameModelRetryDelay time.Duration
	AutoFold            bool
	Watchdog            watchdog.Config
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      10 * time.Second,
		GameModelRetryDelay: 5 * time.Second,
		AutoFold:            true,
		Watchdog:            watchdog.DefaultConfig(),
	}
}

// Option customises a Client
type Option func(*Client)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithHooks registers collaborator hooks, called after the client's own
func WithHooks(h state.Hooks) Option {
	return func(c *Client) { c.userHooks = h }
}

func WithPublisher(p relay.Publisher) Option {
	return func(c *Client) { c.publisher = p }
}

func WithHandDescriber(d state.HandDescriber) Option {
	return func(c *Client) { c.describer = d }
}

func WithDurableFirer(f watchdog.DurableFirer) Option {
	return func(c *Client) { c.firer = f }
}

func WithChatConn(conn Conn) Option {
	return func(c *Client) { c.chat = conn }
}

func WithChatHandler(fn func(events.ChatMessage)) Option {
	return func(c *Client) { c.onChat = fn }
}

// Client keeps one player's view of a table in sync and sends their actions
type Client struct {
	config Config
	game   Conn
	chat   Conn
	api    ActionAPI
	clock  clockwork.Clock

	machine   *state.Machine
	dog       *watchdog.Watchdog
	publisher relay.Publisher
	describer state.HandDescriber
	firer     watchdog.DurableFirer
	userHooks state.Hooks
	onChat    func(events.ChatMessage)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	gameListener gateway.ListenerID
	chatListener gateway.ListenerID
	retryTimer   clockwork.Timer

	turnMu sync.Mutex
	turn   turnMark
}

// turnMark identifies the turn we currently hold. The same player can get
// the turn twice in a row (next street, heads-up), so ownership alone does
// not tell two turns apart.
type turnMark struct {
	mine  bool
	board int
	pot   int64
	acted bool
}

// New wires the state machine, watchdog and relay for one seat
func New(config Config, game Conn, api ActionAPI, opts ...Option) *Client {
	c := &Client{
		config: config,
		game:   game,
		api:    api,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	defaults := DefaultConfig()
	if c.config.ConnectTimeout <= 0 {
		c.config.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.config.GameModelRetryDelay <= 0 {
		c.config.GameModelRetryDelay = defaults.GameModelRetryDelay
	}
	if c.publisher == nil {
		c.publisher = relay.NewLogPublisher()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	var machineOpts []state.Option
	if c.describer != nil {
		machineOpts = append(machineOpts, state.WithHandDescriber(c.describer))
	}
	c.machine = state.NewMachine(c.config.LobbyID, c.hooks(), machineOpts...)

	dogOpts := []watchdog.Option{watchdog.WithClock(c.clock)}
	if c.firer != nil {
		dogOpts = append(dogOpts, watchdog.WithDurableFirer(c.firer))
	}
	c.dog = watchdog.New(
		c.config.Watchdog,
		watchdog.Identity{SessionID: c.config.LobbyID, UserID: c.config.UserID},
		c.onTurnTimeout,
		dogOpts...,
	)

	return c
}

// hooks chains the client's own bookkeeping in front of the collaborator hooks
func (c *Client) hooks() state.Hooks {
	return state.Hooks{
		OnChange: func(session state.GameSession, cause events.Tag) {
			c.trackTurn(session, cause)

			if err := c.publisher.Publish(c.ctx, relay.NewStateUpdate(session, cause)); err != nil {
				log.Warn().Err(err).Str("lobby_id", session.LobbyID).Msg("failed to relay state update")
			}
			if c.userHooks.OnChange != nil {
				c.userHooks.OnChange(session, cause)
			}
		},
		OnNotice: func(n state.Notice) {
			log.Info().Str("kind", string(n.Kind)).Msg(n.Text)
			if c.userHooks.OnNotice != nil {
				c.userHooks.OnNotice(n)
			}
		},
		OnWeatherVote: func(weatherType string) {
			if c.userHooks.OnWeatherVote != nil {
				c.userHooks.OnWeatherVote(weatherType)
			}
		},
		OnLeave: func(reason string) {
			c.dog.SetMyTurn(false)
			if c.userHooks.OnLeave != nil {
				c.userHooks.OnLeave(reason)
			}
		},
	}
}

// trackTurn keeps the watchdog in step with turn ownership. A ROUNDMODEL that
// hands us the turn again after we acted, or on a new board or pot, starts a
// new deadline.
func (c *Client) trackTurn(session state.GameSession, cause events.Tag) {
	mine := isTurnOf(session, c.config.UserID)
	restart := false

	c.turnMu.Lock()
	switch {
	case !mine:
		c.turn = turnMark{}
	case cause == events.TagRoundModel:
		next := markOf(session)
		restart = c.turn.mine && (c.turn.acted || c.turn.board != next.board || c.turn.pot != next.pot)
		c.turn = next
	case !c.turn.mine:
		c.turn = markOf(session)
	}
	c.turnMu.Unlock()

	c.dog.SetMyTurn(mine)
	if restart {
		log.Debug().
			Str("lobby_id", session.LobbyID).
			Str("user_id", c.config.UserID).
			Msg("turn came straight back, restarting deadline")
		c.dog.Restart()
	}
}

func markOf(s state.GameSession) turnMark {
	return turnMark{mine: true, board: len(s.Round.CommunityCards), pot: s.Round.PotSize}
}

// acted records that we sent a move for the turn we hold
func (c *Client) acted() {
	c.turnMu.Lock()
	if c.turn.mine {
		c.turn.acted = true
	}
	c.turnMu.Unlock()
	c.dog.Activity(watchdog.ActivityAction)
}

func isTurnOf(s state.GameSession, userID string) bool {
	return userID != "" && !s.Ended && s.Round != nil && s.Round.TurnOwnerID == userID
}

// Join registers with the lobby over REST, opens the game socket and asks for
// the lobby model. If no GAMEMODEL has arrived after the retry delay the
// request is sent once more.
func (c *Client) Join(ctx context.Context) error {
	if err := c.api.Join(ctx, c.config.LobbyID, c.config.UserID); err != nil {
		return fmt.Errorf("join lobby %s: %w", c.config.LobbyID, err)
	}

	c.mu.Lock()
	if c.gameListener == "" {
		c.gameListener = c.game.AddListener(c.machine.HandleMessage)
	}
	c.mu.Unlock()

	ready, err := c.game.Connect(gateway.ChannelGame, c.config.LobbyID, c.config.Token, c.config.UserID)
	if err != nil {
		return fmt.Errorf("connect game channel: %w", err)
	}
	if err := c.waitOpen(ctx, ready); err != nil {
		return err
	}

	if err := c.requestGameModel(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = c.clock.AfterFunc(c.config.GameModelRetryDelay, c.retryGameModel)
	c.mu.Unlock()

	log.Info().
		Str("lobby_id", c.config.LobbyID).
		Str("user_id", c.config.UserID).
		Msg("joined lobby")
	return nil
}

func (c *Client) waitOpen(ctx context.Context, ready <-chan struct{}) error {
	timeout := c.clock.NewTimer(c.config.ConnectTimeout)
	defer timeout.Stop()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.Chan():
		return ErrConnectTimeout
	}
}

func (c *Client) requestGameModel() error {
	data, err := events.NewGameModelRequest(c.config.LobbyID)
	if err != nil {
		return err
	}
	c.game.Send(data)
	return nil
}

func (c *Client) retryGameModel() {
	if c.ctx.Err() != nil || c.machine.HasGameModel() {
		return
	}
	log.Warn().
		Str("lobby_id", c.config.LobbyID).
		Dur("after", c.config.GameModelRetryDelay).
		Msg("no game model yet, requesting again")
	if err := c.requestGameModel(); err != nil {
		log.Error().Err(err).Msg("failed to request game model")
	}
}

// ConnectChat opens the chat socket; inbound lines go to the chat handler
func (c *Client) ConnectChat(ctx context.Context) error {
	if c.chat == nil {
		return ErrNoChat
	}

	c.mu.Lock()
	if c.chatListener == "" {
		c.chatListener = c.chat.AddListener(c.handleChat)
	}
	c.mu.Unlock()

	ready, err := c.chat.Connect(gateway.ChannelChat, c.config.LobbyID, c.config.Token, c.config.UserID)
	if err != nil {
		return fmt.Errorf("connect chat channel: %w", err)
	}
	return c.waitOpen(ctx, ready)
}

func (c *Client) handleChat(data []byte) {
	ev, err := events.Decode(data)
	if err != nil {
		log.Warn().Err(err).Msg("discarding malformed chat message")
		return
	}
	msg, ok := ev.(events.ChatMessage)
	if !ok {
		log.Debug().Str("event", string(ev.Tag())).Msg("ignoring non-chat event on chat channel")
		return
	}
	if c.onChat != nil {
		c.onChat(msg)
	}
}

// Chat sends one line on the chat channel
func (c *Client) Chat(message string) error {
	if c.chat == nil {
		return ErrNoChat
	}
	return c.chat.SendJSON(events.OutgoingChat{
		Event:   events.TagChat,
		UserID:  c.config.UserID,
		Message: message,
	})
}

func (c *Client) onTurnTimeout() {
	if !c.config.AutoFold {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	if err := c.api.Fold(ctx, c.config.LobbyID, c.config.UserID); err != nil {
		log.Error().Err(err).Msg("auto fold after inactivity failed")
	}
}

// Activity forwards an input signal to the watchdog
func (c *Client) Activity(kind watchdog.Activity) {
	c.dog.Activity(kind)
}

// SetVisible forwards a visibility change to the watchdog
func (c *Client) SetVisible(visible bool) {
	c.dog.SetVisible(visible)
}

// ConfirmPendingWeather applies or discards the staged weather vote. Safe to
// call from a hook or from another goroutine.
func (c *Client) ConfirmPendingWeather(accept bool) error {
	return c.machine.ConfirmPendingWeather(accept)
}

// Snapshot returns a copy of the current session
func (c *Client) Snapshot() state.GameSession {
	return c.machine.Snapshot()
}

// Machine exposes the state machine for direct event injection
func (c *Client) Machine() *state.Machine {
	return c.machine
}

// Watchdog exposes the inactivity watchdog
func (c *Client) Watchdog() *watchdog.Watchdog {
	return c.dog
}

// Unload fires the durable force-fold if it is our turn, then closes
func (c *Client) Unload() {
	c.dog.Unload()
	c.Close()
}

// Close stops timers and tears down the sockets
func (c *Client) Close() {
	c.cancel()
	c.dog.Close()

	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	gameListener, chatListener := c.gameListener, c.chatListener
	c.gameListener, c.chatListener = "", ""
	c.mu.Unlock()

	if gameListener != "" {
		c.game.RemoveListener(gameListener)
	}
	if err := c.game.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close game socket")
	}
	if c.chat != nil {
		if chatListener != "" {
			c.chat.RemoveListener(chatListener)
		}
		if err := c.chat.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close chat socket")
		}
	}
}
