package state

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tablesync/go/internal/table/events"
)

// HandDescriber names a hand from its cards (hole cards plus board)
type HandDescriber interface {
	Describe(cards []events.Card) (description string, score int, err error)
}

// Hooks are invoked after an event has been applied, outside the machine lock.
// Deliveries happen one at a time in the order the changes were applied; a
// change made from inside a hook is delivered after that hook returns.
type Hooks struct {
	OnChange      func(session GameSession, cause events.Tag)
	OnNotice      func(notice Notice)
	OnWeatherVote func(weatherType string)
	OnLeave       func(reason string)
}

// Option customises a Machine
type Option func(*Machine)

// WithHandDescriber fills in hand descriptions the server left out of WINNINGMODEL
func WithHandDescriber(d HandDescriber) Option {
	return func(m *Machine) {
		m.describer = d
	}
}

// Machine applies protocol events to a GameSession, one at a time
type Machine struct {
	mu        sync.Mutex
	session   GameSession
	hooks     Hooks
	describer HandDescriber

	// pending hook deliveries, drained by whichever caller got there first
	pending    []delivery
	delivering bool
}

type delivery struct {
	fx       effects
	snapshot GameSession
	cause    events.Tag
}

// NewMachine creates a machine for lobbyID in PRE_GAME
func NewMachine(lobbyID string, hooks Hooks, opts ...Option) *Machine {
	m := &Machine{
		session: GameSession{
			LobbyID: lobbyID,
			Phase:   PhasePreGame,
			Players: make(map[string]events.PlayerSnapshot),
		},
		hooks: hooks,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleMessage decodes one raw inbound message and applies it. Undecodable
// input is logged and dropped.
func (m *Machine) HandleMessage(data []byte) {
	ev, err := events.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("lobby_id", m.lobbyID()).Msg("discarding malformed message")
		return
	}
	if err := m.Apply(ev); err != nil {
		log.Warn().Err(err).Str("lobby_id", m.lobbyID()).Msg("discarding event")
	}
}

// effects collects what has to happen once the lock is released
type effects struct {
	changed     bool
	notice      *Notice
	weatherVote *string
	leave       *string
}

func (fx effects) empty() bool {
	return !fx.changed && fx.notice == nil && fx.weatherVote == nil && fx.leave == nil
}

// Apply updates the session for one event
func (m *Machine) Apply(ev events.Event) error {
	m.mu.Lock()
	fx, err := m.apply(ev)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.enqueueLocked(fx, ev.Tag())
	m.mu.Unlock()

	m.deliver()
	return nil
}

// enqueueLocked queues the hooks for a change while its snapshot is current
func (m *Machine) enqueueLocked(fx effects, cause events.Tag) {
	if fx.empty() {
		return
	}
	d := delivery{fx: fx, cause: cause}
	if fx.changed {
		d.snapshot = m.session.Clone()
	}
	m.pending = append(m.pending, d)
}

// deliver runs queued hooks in order. If another caller (or an outer frame
// of this one, when a hook re-enters the machine) is already delivering, the
// queued hooks are left to it.
func (m *Machine) deliver() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		d := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.fire(d.fx, d.snapshot, d.cause)

		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Machine) apply(ev events.Event) (effects, error) {
	s := &m.session

	switch e := ev.(type) {
	case events.GameModel:
		model := e.Clone()
		if model.LobbyID != "" {
			s.LobbyID = model.LobbyID
		}
		s.OwnerID = model.OwnerID
		s.Players = make(map[string]events.PlayerSnapshot, len(model.Players))
		for _, p := range model.Players {
			s.Players[p.UserID] = p
		}
		s.Settings = model.Settings
		if model.Settings.WeatherType != "" {
			s.Rule = Rule{
				WeatherType:     model.Settings.WeatherType,
				CustomHandOrder: cloneStrings(model.Settings.CustomHandOrder),
			}
		}
		s.GameModelReceived = true

	case events.GameStateChanged:
		phase, ok := ParsePhase(e.State)
		if !ok {
			return effects{}, &events.ProtocolError{
				Tag:    e.Tag(),
				Reason: fmt.Sprintf("unknown phase %q", e.State),
			}
		}
		s.Phase = phase
		if phase == PhasePreGame {
			s.Round = nil
			s.Winning = nil
			s.Bluff = nil
		}
		log.Info().Str("lobby_id", s.LobbyID).Str("phase", string(phase)).Msg("phase changed")

	case events.RoundModel:
		round := e.Clone()
		s.Round = &round
		if s.Bluff != nil && !round.HasOtherPlayer(s.Bluff.UserID) {
			s.Bluff = nil
		}

	case events.WinningModel:
		winning := e.Clone()
		m.describeMissing(&winning)
		s.Winning = &winning

	case events.BluffModel:
		if e.Card == nil || e.UserID == "" {
			log.Debug().Str("lobby_id", s.LobbyID).Msg("ignoring incomplete bluff reveal")
			return effects{}, nil
		}
		if s.Round == nil || !s.Round.HasOtherPlayer(e.UserID) {
			log.Debug().
				Str("lobby_id", s.LobbyID).
				Str("user_id", e.UserID).
				Msg("ignoring bluff reveal from player outside the round")
			return effects{}, nil
		}
		s.Bluff = &BluffReveal{UserID: e.UserID, Card: *e.Card}

	case events.WeatherUpdated:
		s.Rule.WeatherType = e.WeatherType
		if e.CustomHandOrder != nil {
			s.Rule.CustomHandOrder = cloneStrings(e.CustomHandOrder)
		}
		notice := Notice{Kind: NoticeWeatherChanged, Text: "Weather changed to " + weatherName(e.WeatherType)}
		s.LastNotice = &notice
		return effects{changed: true, notice: &notice}, nil

	case events.WeatherVoteResult:
		weather := e.WeatherType
		s.PendingWeather = &weather
		notice := Notice{Kind: NoticeWeatherVote, Text: "The table voted for " + weatherName(weather) + ". Apply it?"}
		s.LastNotice = &notice
		return effects{changed: true, notice: &notice, weatherVote: &weather}, nil

	case events.ShowVoteMapButton:
		s.ShowVoteMap = e.Show == nil || *e.Show

	case events.Leave:
		s.Ended = true
		s.EndReason = e.Reason
		log.Info().Str("lobby_id", s.LobbyID).Str("reason", e.Reason).Msg("session ended by server")
		reason := e.Reason
		return effects{changed: true, leave: &reason}, nil

	case events.ChatMessage:
		// chat lines do not touch the session
		return effects{}, nil

	case events.Unknown:
		log.Warn().Str("lobby_id", s.LobbyID).Str("event", e.Name).Msg("unknown event, ignoring")
		return effects{}, nil

	default:
		log.Warn().Str("lobby_id", s.LobbyID).Str("event", string(ev.Tag())).Msg("unhandled event type")
		return effects{}, nil
	}

	return effects{changed: true}, nil
}

func (m *Machine) fire(fx effects, snapshot GameSession, cause events.Tag) {
	if fx.changed && m.hooks.OnChange != nil {
		m.hooks.OnChange(snapshot, cause)
	}
	if fx.notice != nil && m.hooks.OnNotice != nil {
		m.hooks.OnNotice(*fx.notice)
	}
	if fx.weatherVote != nil && m.hooks.OnWeatherVote != nil {
		m.hooks.OnWeatherVote(*fx.weatherVote)
	}
	if fx.leave != nil && m.hooks.OnLeave != nil {
		m.hooks.OnLeave(*fx.leave)
	}
}

// describeMissing evaluates hands the server sent without a description
func (m *Machine) describeMissing(w *events.WinningModel) {
	if m.describer == nil {
		return
	}

	index := make(map[string]int, len(w.Evaluations))
	for i, e := range w.Evaluations {
		index[e.UserID] = i
	}

	players := append([]events.PlayerSnapshot{w.Player}, w.OtherPlayers...)
	for _, p := range players {
		if p.UserID == "" || len(p.Cards) == 0 {
			continue
		}
		i, ok := index[p.UserID]
		if ok && w.Evaluations[i].Description != "" {
			continue
		}

		cards := append(append([]events.Card(nil), p.Cards...), w.CommunityCards...)
		desc, score, err := m.describer.Describe(cards)
		if err != nil {
			log.Debug().Err(err).Str("user_id", p.UserID).Msg("could not describe hand")
			continue
		}

		if ok {
			w.Evaluations[i].Description = desc
			w.Evaluations[i].Score = score
			continue
		}
		w.Evaluations = append(w.Evaluations, events.HandEvaluation{
			UserID:      p.UserID,
			Description: desc,
			Score:       score,
			Cards:       cards,
		})
		index[p.UserID] = len(w.Evaluations) - 1
	}
}

// ConfirmPendingWeather applies (accept) or discards the staged vote result.
// It may be called from any goroutine, including from a hook; its hooks are
// delivered in order with those of inbound events.
func (m *Machine) ConfirmPendingWeather(accept bool) error {
	m.mu.Lock()
	s := &m.session
	if s.PendingWeather == nil {
		m.mu.Unlock()
		return ErrNoPendingWeather
	}
	weather := *s.PendingWeather
	s.PendingWeather = nil

	var fx effects
	fx.changed = true
	if accept {
		s.Rule.WeatherType = weather
		notice := Notice{Kind: NoticeWeatherChanged, Text: "Weather changed to " + weatherName(weather)}
		s.LastNotice = &notice
		fx.notice = &notice
	}
	lobbyID := s.LobbyID
	m.enqueueLocked(fx, events.TagWeatherVoteResult)
	m.mu.Unlock()

	log.Info().
		Str("lobby_id", lobbyID).
		Str("weather_type", weather).
		Bool("accepted", accept).
		Msg("weather vote confirmed")

	m.deliver()
	return nil
}

// Snapshot returns a deep copy of the current session
func (m *Machine) Snapshot() GameSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// IsTurnOf reports whether userID owns the turn in the current round
func (m *Machine) IsTurnOf(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	return userID != "" && !s.Ended && s.Round != nil && s.Round.TurnOwnerID == userID
}

// HasGameModel reports whether a GAMEMODEL has been applied
func (m *Machine) HasGameModel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.GameModelReceived
}

func (m *Machine) lobbyID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.LobbyID
}

// weatherName turns HEAVY_RAIN into "heavy rain"
func weatherName(weatherType string) string {
	if weatherType == "" {
		return "clear skies"
	}
	return strings.ToLower(strings.ReplaceAll(weatherType, "_", " "))
}
