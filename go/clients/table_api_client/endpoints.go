package table_api_client

const (
	// Base URL
	DefaultBaseURL = "http://localhost:8080"

	// Game endpoints
	GamePrefix = "/game/"

	// Headers
	AuthorizationHeader = "Authorization"
	RequestIDHeader     = "X-Request-ID"
)

// Action is the last path segment of a /game/{action} endpoint
type Action string

const (
	ActionFold       Action = "fold"
	ActionCheck      Action = "check"
	ActionCall       Action = "call"
	ActionRaise      Action = "raise"
	ActionJoin       Action = "join"
	ActionStart      Action = "start"
	ActionLeave      Action = "leave"
	ActionInvite     Action = "invite"
	ActionSwap       Action = "swap"
	ActionBluffCards Action = "bluffCards"
	ActionForceFold  Action = "forceFold"
)

// Endpoint returns the request path for an action
func (a Action) Endpoint() string {
	return GamePrefix + string(a)
}
