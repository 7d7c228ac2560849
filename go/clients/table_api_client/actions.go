package table_api_client

import (
	"context"

	"github.com/mcdev12/tablesync/go/internal/table/events"
)

// ActionRequest is the body shared by every /game action
type ActionRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Amount    *int64 `json:"amount,omitempty"`
}

type InviteRequest struct {
	SessionID     string `json:"sessionId"`
	UserID        string `json:"userId"`
	InvitedUserID string `json:"invitedUserId"`
}

type SwapRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	CardIndex int    `json:"cardIndex"`
}

type BluffCardsRequest struct {
	SessionID string      `json:"sessionId"`
	UserID    string      `json:"userId"`
	Card      events.Card `json:"card"`
}

func (c *TableApiClient) Fold(ctx context.Context, sessionID, userID string) error {
	return c.do(ctx, ActionFold, ActionRequest{SessionID: sessionID, UserID: userID})
}

func (c *TableApiClient) Check(ctx context.Context, sessionID, userID string) error {
	return c.do(ctx, ActionCheck, ActionRequest{SessionID: sessionID, UserID: userID})
}

// Call matches the current bet; amount is the chips the server expects
func (c *TableApiClient) Call(ctx context.Context, sessionID, userID string, amount int64) error {
	return c.do(ctx, ActionCall, ActionRequest{SessionID: sessionID, UserID: userID, Amount: &amount})
}

func (c *TableApiClient) Raise(ctx context.Context, sessionID, userID string, amount int64) error {
	return c.do(ctx, ActionRaise, ActionRequest{SessionID: sessionID, UserID: userID, Amount: &amount})
}

func (c *TableApiClient) Join(ctx context.Context, sessionID, userID string) error {
	return c.do(ctx, ActionJoin, ActionRequest{SessionID: sessionID, UserID: userID})
}

// Start asks the server to deal the first hand; only the owner may
func (c *TableApiClient) Start(ctx context.Context, sessionID, userID string) error {
	return c.do(ctx, ActionStart, ActionRequest{SessionID: sessionID, UserID: userID})
}

func (c *TableApiClient) Leave(ctx context.Context, sessionID, userID string) error {
	return c.do(ctx, ActionLeave, ActionRequest{SessionID: sessionID, UserID: userID})
}

func (c *TableApiClient) Invite(ctx context.Context, sessionID, userID, invitedUserID string) error {
	return c.do(ctx, ActionInvite, InviteRequest{SessionID: sessionID, UserID: userID, InvitedUserID: invitedUserID})
}

func (c *TableApiClient) Swap(ctx context.Context, sessionID, userID string, cardIndex int) error {
	return c.do(ctx, ActionSwap, SwapRequest{SessionID: sessionID, UserID: userID, CardIndex: cardIndex})
}

func (c *TableApiClient) BluffCards(ctx context.Context, sessionID, userID string, card events.Card) error {
	return c.do(ctx, ActionBluffCards, BluffCardsRequest{SessionID: sessionID, UserID: userID, Card: card})
}
