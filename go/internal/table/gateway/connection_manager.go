package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrClosed is reported when the manager is torn down while a dial is pending
var ErrClosed = errors.New("connection manager closed")

// Listener receives every inbound message while registered
type Listener func(data []byte)

// ListenerID identifies a registered listener
type ListenerID string

// ConnectionManager owns at most one live socket to the game server. Messages
// sent while it is not open are queued and flushed in order once it opens.
type ConnectionManager struct {
	config ConnectionConfig
	dial   DialFunc
	clock  clockwork.Clock

	mu         sync.Mutex
	state      ConnState
	channel    Channel
	sessionID  string
	connID     string
	socket     Socket
	ready      chan struct{}
	queue      [][]byte
	listeners  map[ListenerID]Listener
	cancelDial context.CancelFunc
	openedAt   time.Time

	// gorilla allows a single concurrent writer
	writeMu sync.Mutex
}

// ConnectionConfig holds configuration for the game server socket
type ConnectionConfig struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SettleDelay      time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultConnectionConfig returns default socket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BaseURL:          "ws://localhost:8080",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		SettleDelay:      100 * time.Millisecond,
		MaxMessageSize:   64 * 1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// Option customises a ConnectionManager
type Option func(*ConnectionManager)

// WithDialer replaces the websocket dialer
func WithDialer(dial DialFunc) Option {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// WithClock replaces the clock used for the settle delay
func WithClock(clock clockwork.Clock) Option {
	return func(cm *ConnectionManager) {
		cm.clock = clock
	}
}

// NewConnectionManager creates an idle connection manager
func NewConnectionManager(config ConnectionConfig, opts ...Option) *ConnectionManager {
	cm := &ConnectionManager{
		config:    config,
		clock:     clockwork.NewRealClock(),
		state:     StateIdle,
		listeners: make(map[ListenerID]Listener),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.dial == nil {
		cm.dial = NewWebSocketDialer(config)
	}
	return cm
}

// Connect opens the socket for channel. The returned channel is closed once the
// transport is open and is never closed on failure, so callers must bound the
// wait themselves. While a connection is connecting or open, Connect returns
// the existing handle and dials nothing.
func (cm *ConnectionManager) Connect(channel Channel, sessionID, token, userID string) (<-chan struct{}, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.state == StateConnecting || cm.state == StateOpen {
		if channel != cm.channel {
			log.Warn().
				Str("active_channel", string(cm.channel)).
				Str("requested_channel", string(channel)).
				Msg("connection already active, reusing it")
		}
		return cm.ready, nil
	}

	rawURL, err := BuildURL(cm.config.BaseURL, channel, sessionID, token, userID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})

	cm.state = StateConnecting
	cm.channel = channel
	cm.sessionID = sessionID
	cm.connID = uuid.New().String()
	cm.ready = ready
	cm.cancelDial = cancel

	log.Info().
		Str("connection_id", cm.connID).
		Str("channel", string(channel)).
		Str("session_id", sessionID).
		Msg("connecting to game server")

	go cm.run(ctx, cm.connID, rawURL, ready)

	return ready, nil
}

// run dials, publishes the open state and then owns the read loop
func (cm *ConnectionManager) run(ctx context.Context, connID, rawURL string, ready chan struct{}) {
	socket, err := cm.dial(ctx, rawURL)

	cm.mu.Lock()
	if cm.connID != connID {
		cm.mu.Unlock()
		if socket != nil {
			socket.Close()
		}
		return
	}
	cm.cancelDial = nil
	if err != nil {
		cm.state = StateIdle
		cm.mu.Unlock()
		log.Error().
			Err(&TransportError{Op: "dial", Err: err}).
			Str("connection_id", connID).
			Msg("failed to open socket")
		return
	}

	cm.socket = socket
	cm.state = StateOpen
	cm.openedAt = time.Now()
	close(ready)
	queued := len(cm.queue)
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", connID).
		Int("queued", queued).
		Msg("socket open")

	go cm.flushAfterSettle(connID)

	cm.readPump(connID, socket)
}

// readPump delivers inbound messages to listeners in arrival order
func (cm *ConnectionManager) readPump(connID string, socket Socket) {
	for {
		_, message, err := socket.ReadMessage()
		if err != nil {
			cm.handleClose(connID, socket, err)
			return
		}
		cm.dispatch(message)
	}
}

func (cm *ConnectionManager) dispatch(message []byte) {
	cm.mu.Lock()
	targets := make([]Listener, 0, len(cm.listeners))
	for _, l := range cm.listeners {
		targets = append(targets, l)
	}
	cm.mu.Unlock()

	for _, l := range targets {
		l(message)
	}
}

func (cm *ConnectionManager) handleClose(connID string, socket Socket, err error) {
	cm.mu.Lock()
	current := cm.connID == connID
	if current {
		cm.socket = nil
		cm.state = StateIdle
	}
	cm.mu.Unlock()

	socket.Close()

	if !current {
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Error().
			Err(&TransportError{Op: "read", Err: err}).
			Str("connection_id", connID).
			Msg("unexpected socket close")
		return
	}
	log.Info().
		Str("connection_id", connID).
		Msg("socket closed")
}

// Send writes payload if the socket is open and queues it otherwise. A failed
// write is queued as well; Send never reports an error.
func (cm *ConnectionManager) Send(payload []byte) {
	msg := append([]byte(nil), payload...)

	cm.mu.Lock()
	socket := cm.socket
	if cm.state != StateOpen || socket == nil {
		cm.queue = append(cm.queue, msg)
		queued := len(cm.queue)
		cm.mu.Unlock()
		log.Debug().Int("queued", queued).Msg("socket not open, message queued")
		return
	}
	cm.mu.Unlock()

	if err := cm.write(socket, msg); err != nil {
		log.Warn().
			Err(&TransportError{Op: "write", Err: err}).
			Msg("send failed, message queued")
		cm.mu.Lock()
		cm.queue = append(cm.queue, msg)
		cm.mu.Unlock()
	}
}

// SendJSON marshals v and sends it. Only marshalling errors are returned.
func (cm *ConnectionManager) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	cm.Send(data)
	return nil
}

func (cm *ConnectionManager) write(socket Socket, msg []byte) error {
	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()

	if cm.config.WriteTimeout > 0 {
		if err := socket.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	return socket.WriteMessage(websocket.TextMessage, msg)
}

func (cm *ConnectionManager) flushAfterSettle(connID string) {
	if cm.config.SettleDelay > 0 {
		cm.clock.Sleep(cm.config.SettleDelay)
	}
	cm.flushQueue(connID)
}

// flushQueue drains the queue in FIFO order. A message whose write fails goes
// to the back of the queue; draining stops after a pass with no successful write.
func (cm *ConnectionManager) flushQueue(connID string) {
	for {
		cm.mu.Lock()
		if cm.connID != connID || cm.state != StateOpen || len(cm.queue) == 0 {
			cm.mu.Unlock()
			return
		}
		pending := cm.queue
		cm.queue = nil
		socket := cm.socket
		cm.mu.Unlock()

		var failed [][]byte
		for _, msg := range pending {
			if err := cm.write(socket, msg); err != nil {
				log.Warn().
					Err(&TransportError{Op: "write", Err: err}).
					Str("connection_id", connID).
					Msg("queued send failed, moved to back of queue")
				failed = append(failed, msg)
			}
		}

		cm.mu.Lock()
		cm.queue = append(cm.queue, failed...)
		remaining := len(cm.queue)
		cm.mu.Unlock()

		sent := len(pending) - len(failed)
		log.Debug().
			Str("connection_id", connID).
			Int("sent", sent).
			Int("remaining", remaining).
			Msg("flushed outbound queue")

		if sent == 0 {
			return
		}
	}
}

// AddListener registers l for inbound messages
func (cm *ConnectionManager) AddListener(l Listener) ListenerID {
	id := ListenerID(uuid.New().String())

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners[id] = l
	return id
}

// RemoveListener unregisters a listener; unknown ids are ignored
func (cm *ConnectionManager) RemoveListener(id ListenerID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.listeners, id)
}

// State returns the current lifecycle state
func (cm *ConnectionManager) State() ConnState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state
}

// QueueLen returns the number of messages waiting for an open socket
func (cm *ConnectionManager) QueueLen() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.queue)
}

// Close tears down the socket or cancels a pending dial. Queued messages are
// kept for the next Connect.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	socket := cm.socket
	cancel := cm.cancelDial
	connID := cm.connID
	cm.socket = nil
	cm.cancelDial = nil
	cm.connID = ""
	cm.state = StateClosed
	cm.mu.Unlock()

	if cancel != nil {
		cancel()
		log.Debug().Err(ErrClosed).Str("connection_id", connID).Msg("pending dial cancelled")
	}
	if socket == nil {
		return nil
	}

	cm.writeMu.Lock()
	socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"))
	cm.writeMu.Unlock()

	log.Info().Str("connection_id", connID).Msg("closing socket")
	return socket.Close()
}

// GetConnectionStats returns a snapshot of the manager for diagnostics
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := map[string]interface{}{
		"state":      string(cm.state),
		"channel":    string(cm.channel),
		"session_id": cm.sessionID,
		"queued":     len(cm.queue),
		"listeners":  len(cm.listeners),
	}
	if cm.state == StateOpen {
		stats["open_for"] = time.Since(cm.openedAt).String()
	}
	return stats
}
