package client

import (
	"context"

	"github.com/mcdev12/tablesync/go/internal/table/events"
)

// ActionAPI is the REST side of the table. Every call is sent at most once.
type ActionAPI interface {
	Join(ctx context.Context, sessionID, userID string) error
	Start(ctx context.Context, sessionID, userID string) error
	Leave(ctx context.Context, sessionID, userID string) error
	Fold(ctx context.Context, sessionID, userID string) error
	Check(ctx context.Context, sessionID, userID string) error
	Call(ctx context.Context, sessionID, userID string, amount int64) error
	Raise(ctx context.Context, sessionID, userID string, amount int64) error
	Invite(ctx context.Context, sessionID, userID, invitedUserID string) error
	Swap(ctx context.Context, sessionID, userID string, cardIndex int) error
	BluffCards(ctx context.Context, sessionID, userID string, card events.Card) error
}

// Fold, Check, Call and Raise count as activity and close the turn we hold.
func (c *Client) Fold(ctx context.Context) error {
	c.acted()
	return c.api.Fold(ctx, c.config.LobbyID, c.config.UserID)
}

func (c *Client) Check(ctx context.Context) error {
	c.acted()
	return c.api.Check(ctx, c.config.LobbyID, c.config.UserID)
}

func (c *Client) Call(ctx context.Context, amount int64) error {
	c.acted()
	return c.api.Call(ctx, c.config.LobbyID, c.config.UserID, amount)
}

func (c *Client) Raise(ctx context.Context, amount int64) error {
	c.acted()
	return c.api.Raise(ctx, c.config.LobbyID, c.config.UserID, amount)
}

func (c *Client) Start(ctx context.Context) error {
	return c.api.Start(ctx, c.config.LobbyID, c.config.UserID)
}

func (c *Client) Invite(ctx context.Context, invitedUserID string) error {
	return c.api.Invite(ctx, c.config.LobbyID, c.config.UserID, invitedUserID)
}

func (c *Client) Swap(ctx context.Context, cardIndex int) error {
	return c.api.Swap(ctx, c.config.LobbyID, c.config.UserID, cardIndex)
}

func (c *Client) BluffCards(ctx context.Context, card events.Card) error {
	return c.api.BluffCards(ctx, c.config.LobbyID, c.config.UserID, card)
}

// Leave tells the server we are leaving and tears the client down. The
// client is closed even if the request fails.
func (c *Client) Leave(ctx context.Context) error {
	defer c.Close()
	return c.api.Leave(ctx, c.config.LobbyID, c.config.UserID)
}
