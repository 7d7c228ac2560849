package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/tablesync/go/clients/table_api_client"
	"github.com/mcdev12/tablesync/go/internal/table/client"
	"github.com/mcdev12/tablesync/go/internal/table/events"
	"github.com/mcdev12/tablesync/go/internal/table/gateway"
	"github.com/mcdev12/tablesync/go/internal/table/handeval"
	"github.com/mcdev12/tablesync/go/internal/table/relay"
	"github.com/mcdev12/tablesync/go/internal/table/state"
	"github.com/mcdev12/tablesync/go/internal/table/watchdog"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := loadConfig(getEnv("TABLESYNC_CONFIG", "tablesync.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.applyEnv()
	if err := config.validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(config.logLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		log.Fatal().Err(err).Msg("tablesync stopped with error")
	}
	log.Info().Msg("tablesync stopped")
}

func run(ctx context.Context, config *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().
		Str("lobby_id", config.Seat.LobbyID).
		Str("user_id", config.Seat.UserID).
		Str("api_url", config.Server.HTTPURL).
		Str("ws_url", config.Server.WSURL).
		Bool("relay", config.Relay.Enabled).
		Msg("starting tablesync")

	api := table_api_client.NewTableApiClient(config.Server.HTTPURL, config.Seat.Token)

	connConfig := gateway.DefaultConnectionConfig()
	connConfig.BaseURL = config.Server.WSURL
	game := gateway.NewConnectionManager(connConfig)
	chat := gateway.NewConnectionManager(connConfig)

	publisher, err := setupPublisher(ctx, config)
	if err != nil {
		return err
	}
	defer publisher.Close()

	clientConfig := client.DefaultConfig()
	clientConfig.LobbyID = config.Seat.LobbyID
	clientConfig.UserID = config.Seat.UserID
	clientConfig.Token = config.Seat.Token
	clientConfig.ConnectTimeout = config.Client.ConnectTimeout
	clientConfig.GameModelRetryDelay = config.Client.GameModelRetry
	clientConfig.AutoFold = config.Client.AutoFold
	clientConfig.Watchdog = watchdog.Config{Timeout: config.Client.TurnTimeout}

	var table *client.Client
	table = client.New(clientConfig, game, api,
		client.WithChatConn(chat),
		client.WithPublisher(publisher),
		client.WithHandDescriber(handeval.New()),
		client.WithDurableFirer(api),
		client.WithChatHandler(func(m events.ChatMessage) {
			log.Info().Str("from", m.Username).Str("user_id", m.UserID).Msg(m.Message)
		}),
		client.WithHooks(state.Hooks{
			OnWeatherVote: func(weatherType string) {
				if err := table.ConfirmPendingWeather(config.Client.AcceptWeather); err != nil {
					log.Warn().Err(err).Msg("failed to confirm weather vote")
				}
			},
			OnLeave: func(reason string) {
				log.Info().Str("reason", reason).Msg("server ended the session")
				cancel()
			},
		}),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := table.Join(gctx); err != nil {
			return err
		}
		if config.Client.Chat {
			if err := table.ConnectChat(gctx); err != nil {
				log.Warn().Err(err).Msg("chat unavailable")
			}
		}
		<-gctx.Done()
		return nil
	})

	if config.Status.Port != "" {
		server := setupStatusServer(config.Status.Port, statusSource{
			snapshot: table.Snapshot,
			stats: map[string]func() map[string]interface{}{
				"game": game.GetConnectionStats,
				"chat": chat.GetConnectionStats,
			},
		})

		g.Go(func() error {
			log.Info().Str("addr", server.Addr).Msg("status server starting")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	// Fires the durable force fold if we still hold the turn
	table.Unload()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	if werr := api.Wait(waitCtx); werr != nil {
		log.Warn().Err(werr).Msg("force fold did not finish before exit")
	}

	return err
}

func setupPublisher(ctx context.Context, config *Config) (relay.Publisher, error) {
	if !config.Relay.Enabled {
		return relay.NewLogPublisher(), nil
	}

	natsConfig := relay.DefaultNATSConfig()
	natsConfig.URL = config.Relay.URL
	natsConfig.SubjectPrefix = config.Relay.SubjectPrefix

	if config.Relay.JetStream {
		jsConfig := relay.DefaultJetStreamConfig()
		jsConfig.NATS = natsConfig
		return relay.NewJetStreamPublisher(ctx, jsConfig)
	}
	return relay.NewNATSPublisher(natsConfig)
}
