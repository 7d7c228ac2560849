package state

import (
	"errors"

	"github.com/mcdev12/tablesync/go/internal/table/events"
)

// ErrNoPendingWeather is returned when there is no vote result to confirm
var ErrNoPendingWeather = errors.New("no pending weather vote")

// Phase is the coarse game phase
type Phase string

const (
	PhasePreGame Phase = "PRE_GAME"
	PhaseInGame  Phase = "IN_GAME"
)

// ParsePhase maps the wire value onto a Phase
func ParsePhase(s string) (Phase, bool) {
	switch Phase(s) {
	case PhasePreGame, PhaseInGame:
		return Phase(s), true
	default:
		return "", false
	}
}

// BluffReveal is a card another player chose to show
type BluffReveal struct {
	UserID string      `json:"user_id"`
	Card   events.Card `json:"card"`
}

// Rule is the active weather rule set
type Rule struct {
	WeatherType     string   `json:"weather_type,omitempty"`
	CustomHandOrder []string `json:"custom_hand_order,omitempty"`
}

// NoticeKind classifies a notice
type NoticeKind string

const (
	NoticeWeatherChanged NoticeKind = "weather_changed"
	NoticeWeatherVote    NoticeKind = "weather_vote"
)

// Notice is a human readable message for the player
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// GameSession is the local view of one lobby
type GameSession struct {
	LobbyID  string                           `json:"lobby_id"`
	Phase    Phase                            `json:"phase"`
	OwnerID  string                           `json:"owner_id,omitempty"`
	Players  map[string]events.PlayerSnapshot `json:"players"`
	Settings events.GameSettings              `json:"settings"`

	Round   *events.RoundModel   `json:"round,omitempty"`
	Winning *events.WinningModel `json:"winning,omitempty"`
	Bluff   *BluffReveal         `json:"bluff,omitempty"`
	Rule    Rule                 `json:"rule"`

	PendingWeather *string `json:"pending_weather,omitempty"`
	ShowVoteMap    bool    `json:"show_vote_map"`
	Ended          bool    `json:"ended"`
	EndReason      string  `json:"end_reason,omitempty"`
	LastNotice     *Notice `json:"last_notice,omitempty"`

	GameModelReceived bool `json:"game_model_received"`
}

// Clone returns a deep copy of the session
func (s GameSession) Clone() GameSession {
	if s.Players != nil {
		players := make(map[string]events.PlayerSnapshot, len(s.Players))
		for id, p := range s.Players {
			players[id] = p.Clone()
		}
		s.Players = players
	}
	s.Settings.CustomHandOrder = cloneStrings(s.Settings.CustomHandOrder)
	if s.Round != nil {
		r := s.Round.Clone()
		s.Round = &r
	}
	if s.Winning != nil {
		w := s.Winning.Clone()
		s.Winning = &w
	}
	if s.Bluff != nil {
		b := *s.Bluff
		s.Bluff = &b
	}
	s.Rule.CustomHandOrder = cloneStrings(s.Rule.CustomHandOrder)
	if s.PendingWeather != nil {
		w := *s.PendingWeather
		s.PendingWeather = &w
	}
	if s.LastNotice != nil {
		n := *s.LastNotice
		s.LastNotice = &n
	}
	return s
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
