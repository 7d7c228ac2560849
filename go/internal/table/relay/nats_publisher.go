package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "table",
		Name:          "tablesync",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// msgConn is the part of *nats.Conn the publisher needs
type msgConn interface {
	PublishMsg(m *nats.Msg) error
	Close()
}

// NATSPublisher publishes state updates to core NATS
type NATSPublisher struct {
	nc     msgConn
	config NATSConfig
}

func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return newNATSPublisher(nc, cfg), nil
}

func newNATSPublisher(nc msgConn, cfg NATSConfig) *NATSPublisher {
	return &NATSPublisher{nc: nc, config: cfg}
}

func (p *NATSPublisher) Publish(ctx context.Context, update StateUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := Subject(p.config.SubjectPrefix, update.LobbyID)
	data, err := encodeEnvelope(update)
	if err != nil {
		return err
	}

	err = p.nc.PublishMsg(&nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(update.Cause)},
			"Lobby-ID":   []string{update.LobbyID},
			"Event-ID":   []string{update.ID.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", update.ID.String()).
		Int("size", len(data)).
		Msg("published state update")
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
