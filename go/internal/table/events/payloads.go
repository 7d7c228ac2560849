package events

// Payload types pushed by the game server. Snapshots are always delivered
// whole; the client never merges two of them.

// Card is a single playing card as the server encodes it
type Card struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

// PlayerSnapshot is a player's public (and, for the local player, private) state
type PlayerSnapshot struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Money      int64  `json:"money"`
	Bet        int64  `json:"bet"`
	Cards      []Card `json:"cards,omitempty"`
	Folded     bool   `json:"folded"`
	AllIn      bool   `json:"allIn"`
	LastAction string `json:"lastAction,omitempty"`
}

// GameSettings are the lobby settings carried by a GAMEMODEL
type GameSettings struct {
	SmallBlind      int64    `json:"smallBlind"`
	BigBlind        int64    `json:"bigBlind"`
	StartingMoney   int64    `json:"startingMoney"`
	MaxPlayers      int      `json:"maxPlayers"`
	TurnTimeoutSec  int      `json:"turnTimeoutSec"`
	WeatherType     string   `json:"weatherType,omitempty"`
	CustomHandOrder []string `json:"customHandOrder,omitempty"`
}

// GameModel is the lobby roster and settings snapshot
type GameModel struct {
	LobbyID  string           `json:"lobbyId"`
	OwnerID  string           `json:"ownerId"`
	Players  []PlayerSnapshot `json:"players"`
	Settings GameSettings     `json:"settings"`
}

// GameStateChanged announces a phase transition
type GameStateChanged struct {
	State string `json:"state"`
}

// RoundModel is the full snapshot of the hand in progress
type RoundModel struct {
	Player         PlayerSnapshot   `json:"player"`
	OtherPlayers   []PlayerSnapshot `json:"otherPlayers"`
	CommunityCards []Card           `json:"communityCards"`
	PotSize        int64            `json:"potSize"`
	TurnOwnerID    string           `json:"turnOwnerId"`
	StartPlayerID  string           `json:"startPlayerId"`
}

// HandEvaluation describes one player's final hand at showdown
type HandEvaluation struct {
	UserID      string `json:"userId"`
	Description string `json:"description"`
	Score       int    `json:"score,omitempty"`
	Cards       []Card `json:"cards,omitempty"`
}

// WinningModel is the result snapshot of a finished hand
type WinningModel struct {
	CommunityCards []Card           `json:"communityCards"`
	PotSize        int64            `json:"potSize"`
	Winnings       map[string]int64 `json:"winnings"`
	Player         PlayerSnapshot   `json:"player"`
	OtherPlayers   []PlayerSnapshot `json:"otherPlayers"`
	Evaluations    []HandEvaluation `json:"evaluations,omitempty"`
}

// BluffModel reveals a card (real or fake) chosen by another player
type BluffModel struct {
	UserID string `json:"userId"`
	Card   *Card  `json:"card"`
}

// WeatherUpdated announces a rule change that is already in effect
type WeatherUpdated struct {
	WeatherType     string   `json:"weatherType"`
	CustomHandOrder []string `json:"customHandOrder,omitempty"`
}

// WeatherVoteResult carries the outcome of a weather vote awaiting confirmation
type WeatherVoteResult struct {
	WeatherType string `json:"weatherType"`
}

// ShowVoteMapButton toggles the vote map affordance
type ShowVoteMapButton struct {
	Show *bool `json:"show,omitempty"`
}

// Leave tells this client its session has ended
type Leave struct {
	Reason string `json:"reason,omitempty"`
}

// ChatMessage is a line on the chat channel
type ChatMessage struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Clone returns a deep copy of the player snapshot
func (p PlayerSnapshot) Clone() PlayerSnapshot {
	p.Cards = cloneCards(p.Cards)
	return p
}

// Clone returns a deep copy of the game model
func (m GameModel) Clone() GameModel {
	m.Players = clonePlayers(m.Players)
	m.Settings.CustomHandOrder = cloneStrings(m.Settings.CustomHandOrder)
	return m
}

// Clone returns a deep copy of the round snapshot
func (r RoundModel) Clone() RoundModel {
	r.Player = r.Player.Clone()
	r.OtherPlayers = clonePlayers(r.OtherPlayers)
	r.CommunityCards = cloneCards(r.CommunityCards)
	return r
}

// HasOtherPlayer reports whether userID is one of the round's other players
func (r RoundModel) HasOtherPlayer(userID string) bool {
	for _, p := range r.OtherPlayers {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the winning snapshot
func (w WinningModel) Clone() WinningModel {
	w.CommunityCards = cloneCards(w.CommunityCards)
	if w.Winnings != nil {
		winnings := make(map[string]int64, len(w.Winnings))
		for k, v := range w.Winnings {
			winnings[k] = v
		}
		w.Winnings = winnings
	}
	w.Player = w.Player.Clone()
	w.OtherPlayers = clonePlayers(w.OtherPlayers)
	if w.Evaluations != nil {
		evals := make([]HandEvaluation, len(w.Evaluations))
		for i, e := range w.Evaluations {
			e.Cards = cloneCards(e.Cards)
			evals[i] = e
		}
		w.Evaluations = evals
	}
	return w
}

func cloneCards(cards []Card) []Card {
	if cards == nil {
		return nil
	}
	return append([]Card(nil), cards...)
}

func clonePlayers(players []PlayerSnapshot) []PlayerSnapshot {
	if players == nil {
		return nil
	}
	out := make([]PlayerSnapshot, len(players))
	for i, p := range players {
		out[i] = p.Clone()
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
