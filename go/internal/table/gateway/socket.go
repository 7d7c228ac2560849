package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the subset of *websocket.Conn the manager uses
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a socket to rawURL
type DialFunc func(ctx context.Context, rawURL string) (Socket, error)

// TransportError wraps a socket level failure
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewWebSocketDialer returns a DialFunc backed by a gorilla websocket dialer
func NewWebSocketDialer(config ConnectionConfig) DialFunc {
	dialer := &websocket.Dialer{
		HandshakeTimeout: config.HandshakeTimeout,
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
	}

	return func(ctx context.Context, rawURL string) (Socket, error) {
		conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
			}
			return nil, err
		}

		if config.MaxMessageSize > 0 {
			conn.SetReadLimit(config.MaxMessageSize)
		}
		return conn, nil
	}
}
