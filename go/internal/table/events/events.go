package events

import (
	"encoding/json"
	"fmt"
)

// Tag identifies the kind of a protocol message
type Tag string

const (
	TagGameModel         Tag = "GAMEMODEL"
	TagGameStateChanged  Tag = "GAMESTATECHANGED"
	TagRoundModel        Tag = "ROUNDMODEL"
	TagWinningModel      Tag = "WINNINGMODEL"
	TagBluffModel        Tag = "BLUFFMODEL"
	TagWeatherUpdated    Tag = "WEATHER_UPDATED"
	TagWeatherVoteResult Tag = "WEATHER_VOTE_RESULT"
	TagShowVoteMapButton Tag = "SHOW_VOTE_MAP_BUTTON"
	TagLeave             Tag = "LEAVE"
	TagChat              Tag = "CHAT"
)

// Event is one decoded inbound message. The set of implementations is closed;
// anything the client does not recognise decodes to Unknown.
type Event interface {
	Tag() Tag
	isEvent()
}

// Unknown is an event whose tag this client does not understand
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (GameModel) Tag() Tag         { return TagGameModel }
func (GameStateChanged) Tag() Tag  { return TagGameStateChanged }
func (RoundModel) Tag() Tag        { return TagRoundModel }
func (WinningModel) Tag() Tag      { return TagWinningModel }
func (BluffModel) Tag() Tag        { return TagBluffModel }
func (WeatherUpdated) Tag() Tag    { return TagWeatherUpdated }
func (WeatherVoteResult) Tag() Tag { return TagWeatherVoteResult }
func (ShowVoteMapButton) Tag() Tag { return TagShowVoteMapButton }
func (Leave) Tag() Tag             { return TagLeave }
func (ChatMessage) Tag() Tag       { return TagChat }
func (u Unknown) Tag() Tag         { return Tag(u.Name) }

func (GameModel) isEvent()         {}
func (GameStateChanged) isEvent()  {}
func (RoundModel) isEvent()        {}
func (WinningModel) isEvent()      {}
func (BluffModel) isEvent()        {}
func (WeatherUpdated) isEvent()    {}
func (WeatherVoteResult) isEvent() {}
func (ShowVoteMapButton) isEvent() {}
func (Leave) isEvent()             {}
func (ChatMessage) isEvent()       {}
func (Unknown) isEvent()           {}

// ProtocolError is returned for inbound data that cannot be decoded
type ProtocolError struct {
	Tag    Tag
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Tag != "" {
		msg += " in " + string(e.Tag)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type envelope struct {
	Event string `json:"event"`
}

// Decode parses one raw inbound message into an Event
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if env.Event == "" {
		return nil, &ProtocolError{Reason: "missing event tag"}
	}

	tag := Tag(env.Event)
	switch tag {
	case TagGameModel:
		return decodeBody[GameModel](tag, data)
	case TagGameStateChanged:
		return decodeBody[GameStateChanged](tag, data)
	case TagRoundModel:
		return decodeBody[RoundModel](tag, data)
	case TagWinningModel:
		return decodeBody[WinningModel](tag, data)
	case TagBluffModel:
		return decodeBody[BluffModel](tag, data)
	case TagWeatherUpdated:
		return decodeBody[WeatherUpdated](tag, data)
	case TagWeatherVoteResult:
		return decodeBody[WeatherVoteResult](tag, data)
	case TagShowVoteMapButton:
		return decodeBody[ShowVoteMapButton](tag, data)
	case TagLeave:
		return decodeBody[Leave](tag, data)
	case TagChat:
		return decodeBody[ChatMessage](tag, data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Name: env.Event, Raw: raw}, nil
	}
}

func decodeBody[T Event](tag Tag, data []byte) (Event, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &ProtocolError{Tag: tag, Reason: "malformed body", Err: err}
	}
	return payload, nil
}

// GameModelRequest asks the server to push the current GAMEMODEL
type GameModelRequest struct {
	Event  Tag    `json:"event"`
	GameID string `json:"gameID"`
}

// NewGameModelRequest encodes a GAMEMODEL request for a lobby
func NewGameModelRequest(lobbyID string) ([]byte, error) {
	data, err := json.Marshal(GameModelRequest{Event: TagGameModel, GameID: lobbyID})
	if err != nil {
		return nil, fmt.Errorf("marshal game model request: %w", err)
	}
	return data, nil
}

// OutgoingChat is a chat line sent by this client
type OutgoingChat struct {
	Event   Tag    `json:"event"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}
