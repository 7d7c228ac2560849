package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Channel is the logical purpose of a socket
type Channel string

const (
	ChannelChat Channel = "chat"
	ChannelGame Channel = "game"
)

// ErrInvalidChannel is returned by Connect for a channel other than chat or game
var ErrInvalidChannel = errors.New("invalid channel")

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	return c == ChannelChat || c == ChannelGame
}

// ConnState is the lifecycle state of the managed connection
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

// BuildURL returns {base}/ws/{channel}?gameID=..&token=..[&userID=..]
func BuildURL(base string, channel Channel, sessionID, token, userID string) (string, error) {
	if !channel.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + string(channel)

	q := url.Values{}
	q.Set("gameID", sessionID)
	q.Set("token", token)
	if userID != "" {
		q.Set("userID", userID)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
