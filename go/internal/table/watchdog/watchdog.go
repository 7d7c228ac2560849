package watchdog

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrTurnTimeout is logged when a turn deadline expires without activity
var ErrTurnTimeout = errors.New("turn inactivity timeout")

// Activity is an input signal that proves the player is present
type Activity string

const (
	ActivityPointer Activity = "pointer"
	ActivityKey     Activity = "key"
	ActivityTouch   Activity = "touch"
	// ActivityAction is a move the player sent to the table
	ActivityAction Activity = "action"
)

// DurableFirer sends the force-fold request in a way that outlives the caller
type DurableFirer interface {
	FireForceFold(sessionID, userID string)
}

// Identity names the player and session the watchdog acts for
type Identity struct {
	SessionID string
	UserID    string
}

// Config holds configuration for the watchdog
type Config struct {
	Timeout time.Duration
}

// DefaultConfig returns default watchdog configuration
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}

// Option customises a Watchdog
type Option func(*Watchdog)

// WithClock replaces the clock that drives the deadlines
func WithClock(clock clockwork.Clock) Option {
	return func(w *Watchdog) {
		w.clock = clock
	}
}

// WithDurableFirer sets the capability used by Unload
func WithDurableFirer(f DurableFirer) Option {
	return func(w *Watchdog) {
		w.firer = f
	}
}

// armed is one running timer and the channel that stops its waiter
type armed struct {
	timer clockwork.Timer
	stop  chan struct{}
}

// turnDeadline only exists while it is the watched player's turn
type turnDeadline struct {
	at     time.Time
	normal *armed
	hidden *armed
}

// Watchdog fires OnTimeout when the player stays inactive for a whole turn
type Watchdog struct {
	config    Config
	identity  Identity
	onTimeout func()
	clock     clockwork.Clock
	firer     DurableFirer

	mu         sync.Mutex
	myTurn     bool
	visible    bool
	fired      bool
	closed     bool
	generation uint64
	deadline   *turnDeadline
}

// New creates a watchdog. onTimeout runs on a timer goroutine, at most once per turn.
func New(config Config, identity Identity, onTimeout func(), opts ...Option) *Watchdog {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	w := &Watchdog{
		config:    config,
		identity:  identity,
		onTimeout: onTimeout,
		clock:     clockwork.NewRealClock(),
		visible:   true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetMyTurn starts the deadline when the turn becomes ours and disposes of it
// when the turn ends. Repeating the current value is a no-op.
func (w *Watchdog) SetMyTurn(active bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || active == w.myTurn {
		return
	}
	w.myTurn = active

	if !active {
		w.disposeLocked()
		log.Debug().Str("user_id", w.identity.UserID).Msg("turn ended, deadline disposed")
		return
	}

	w.startTurnLocked()
	log.Debug().
		Str("user_id", w.identity.UserID).
		Time("deadline", w.deadline.at).
		Msg("turn started, deadline armed")
}

// Restart begins a new turn for a player who already holds the turn, e.g.
// when the turn comes straight back on the next street. The old deadline is
// dropped and a timed-out turn may time out again.
func (w *Watchdog) Restart() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.myTurn {
		return
	}
	w.disposeLocked()
	w.startTurnLocked()
	log.Debug().
		Str("user_id", w.identity.UserID).
		Time("deadline", w.deadline.at).
		Msg("turn restarted, deadline armed")
}

func (w *Watchdog) startTurnLocked() {
	w.fired = false
	w.deadline = &turnDeadline{}
	if w.visible {
		w.armNormalLocked()
	} else {
		w.armHiddenLocked()
	}
}

// Activity resets the deadline while it is our turn
func (w *Watchdog) Activity(kind Activity) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.runningLocked() || !w.visible {
		return
	}
	w.armNormalLocked()
	log.Trace().Str("activity", string(kind)).Time("deadline", w.deadline.at).Msg("deadline reset")
}

// SetVisible switches between the normal and the hidden deadline. Becoming
// visible again always starts a fresh full-length deadline.
func (w *Watchdog) SetVisible(visible bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if visible == w.visible {
		return
	}
	w.visible = visible

	if !w.runningLocked() {
		return
	}
	if visible {
		w.armNormalLocked()
	} else {
		w.armHiddenLocked()
	}
	log.Debug().
		Bool("visible", visible).
		Time("deadline", w.deadline.at).
		Msg("visibility changed, deadline rearmed")
}

// Unload is called when the client is going away. During our turn it fires
// the durable force-fold, unless the turn already timed out and onTimeout
// has dealt with it; the outcome is not reported back.
func (w *Watchdog) Unload() {
	w.mu.Lock()
	fire := w.myTurn && !w.fired && !w.closed && w.firer != nil
	w.disposeLocked()
	w.closed = true
	w.mu.Unlock()

	if !fire {
		return
	}
	log.Info().
		Str("session_id", w.identity.SessionID).
		Str("user_id", w.identity.UserID).
		Msg("unloading during own turn, firing force fold")
	w.firer.FireForceFold(w.identity.SessionID, w.identity.UserID)
}

// Close disposes of every timer; later calls are ignored
func (w *Watchdog) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disposeLocked()
	w.closed = true
}

// Deadline returns the current expiry time, if a deadline is running
func (w *Watchdog) Deadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.runningLocked() {
		return time.Time{}, false
	}
	return w.deadline.at, true
}

// Hidden reports whether the running deadline is the hidden-tab one
func (w *Watchdog) Hidden() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline != nil && w.deadline.hidden != nil
}

func (w *Watchdog) runningLocked() bool {
	return w.myTurn && !w.fired && !w.closed && w.deadline != nil
}

func (w *Watchdog) armNormalLocked() {
	w.stopTimersLocked()
	w.deadline.normal = w.startLocked(false)
}

func (w *Watchdog) armHiddenLocked() {
	w.stopTimersLocked()
	w.deadline.hidden = w.startLocked(true)
}

func (w *Watchdog) startLocked(hidden bool) *armed {
	w.generation++
	gen := w.generation

	a := &armed{
		timer: w.clock.NewTimer(w.config.Timeout),
		stop:  make(chan struct{}),
	}
	w.deadline.at = w.clock.Now().Add(w.config.Timeout)

	go func() {
		select {
		case <-a.timer.Chan():
			w.expire(gen, hidden)
		case <-a.stop:
			stopAndDrainTimer(a.timer)
		}
	}()
	return a
}

// stopTimersLocked cancels both timers; bumping the generation makes any
// callback already in flight a no-op
func (w *Watchdog) stopTimersLocked() {
	if w.deadline == nil {
		return
	}
	for _, a := range []*armed{w.deadline.normal, w.deadline.hidden} {
		if a == nil {
			continue
		}
		a.timer.Stop()
		close(a.stop)
	}
	w.deadline.normal = nil
	w.deadline.hidden = nil
	w.generation++
}

func (w *Watchdog) disposeLocked() {
	w.stopTimersLocked()
	w.deadline = nil
}

func (w *Watchdog) expire(gen uint64, hidden bool) {
	w.mu.Lock()
	if gen != w.generation || !w.runningLocked() {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.deadline.normal = nil
	w.deadline.hidden = nil
	w.mu.Unlock()

	log.Warn().
		Err(ErrTurnTimeout).
		Str("session_id", w.identity.SessionID).
		Str("user_id", w.identity.UserID).
		Bool("hidden", hidden).
		Msg("turn deadline expired")

	if w.onTimeout != nil {
		w.onTimeout()
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
