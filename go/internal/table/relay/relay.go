package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tablesync/go/internal/table/events"
	"github.com/mcdev12/tablesync/go/internal/table/state"
)

// StateUpdate is one applied change to a session
type StateUpdate struct {
	ID        uuid.UUID
	LobbyID   string
	Cause     events.Tag
	Session   state.GameSession
	CreatedAt time.Time
}

// NewStateUpdate stamps a session snapshot for publishing
func NewStateUpdate(session state.GameSession, cause events.Tag) StateUpdate {
	return StateUpdate{
		ID:        uuid.New(),
		LobbyID:   session.LobbyID,
		Cause:     cause,
		Session:   session,
		CreatedAt: time.Now().UTC(),
	}
}

// Publisher ships state updates to out-of-process collaborators
type Publisher interface {
	Publish(ctx context.Context, update StateUpdate) error
	Close() error
}

// Subject returns {prefix}.{lobby}.state
func Subject(prefix, lobbyID string) string {
	return fmt.Sprintf("%s.%s.state", prefix, lobbyID)
}

func encodeEnvelope(update StateUpdate) ([]byte, error) {
	payload, err := json.Marshal(update.Session)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	env := map[string]interface{}{
		"eventId":   update.ID.String(),
		"eventType": string(update.Cause),
		"lobbyId":   update.LobbyID,
		"timestamp": update.CreatedAt,
		"payload":   json.RawMessage(payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// LogPublisher only logs updates, for running without a broker
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, update StateUpdate) error {
	log.Debug().
		Str("event_id", update.ID.String()).
		Str("event_type", string(update.Cause)).
		Str("lobby_id", update.LobbyID).
		Str("phase", string(update.Session.Phase)).
		Msg("state update")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
