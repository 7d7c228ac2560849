package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		HTTPURL string `yaml:"http_url"`
		WSURL   string `yaml:"ws_url"`
	} `yaml:"server"`

	Seat struct {
		LobbyID string `yaml:"lobby_id"`
		UserID  string `yaml:"user_id"`
		Token   string `yaml:"token"`
	} `yaml:"seat"`

	Client struct {
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		GameModelRetry time.Duration `yaml:"game_model_retry"`
		TurnTimeout    time.Duration `yaml:"turn_timeout"`
		AutoFold       bool          `yaml:"auto_fold"`
		AcceptWeather  bool          `yaml:"accept_weather"`
		Chat           bool          `yaml:"chat"`
	} `yaml:"client"`

	Relay struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
		JetStream     bool   `yaml:"jetstream"`
	} `yaml:"relay"`

	Status struct {
		Port string `yaml:"port"`
	} `yaml:"status"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.HTTPURL = "http://localhost:8080"
	config.Server.WSURL = "ws://localhost:8080"
	config.Client.ConnectTimeout = 10 * time.Second
	config.Client.GameModelRetry = 5 * time.Second
	config.Client.TurnTimeout = 30 * time.Second
	config.Client.AutoFold = true
	config.Client.Chat = true
	config.Relay.URL = "nats://localhost:4222"
	config.Relay.SubjectPrefix = "table"
	config.Log.Level = "info"
	return &config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig reads path on top of the defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// applyEnv lets the environment override the file
func (c *Config) applyEnv() {
	c.Server.HTTPURL = getEnv("TABLE_API_URL", c.Server.HTTPURL)
	c.Server.WSURL = getEnv("TABLE_WS_URL", c.Server.WSURL)
	c.Seat.LobbyID = getEnv("TABLE_LOBBY_ID", c.Seat.LobbyID)
	c.Seat.UserID = getEnv("TABLE_USER_ID", c.Seat.UserID)
	c.Seat.Token = getEnv("TABLE_TOKEN", c.Seat.Token)
	c.Client.TurnTimeout = getEnvAsDuration("TURN_TIMEOUT", c.Client.TurnTimeout)
	c.Client.AutoFold = getEnvAsBool("AUTO_FOLD", c.Client.AutoFold)
	c.Relay.Enabled = getEnvAsBool("RELAY_ENABLED", c.Relay.Enabled)
	c.Relay.URL = getEnv("NATS_URL", c.Relay.URL)
	c.Status.Port = getEnv("STATUS_PORT", c.Status.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

func (c *Config) validate() error {
	var errs []error
	if c.Seat.LobbyID == "" {
		errs = append(errs, errors.New("seat.lobby_id (TABLE_LOBBY_ID) is required"))
	}
	if c.Seat.UserID == "" {
		errs = append(errs, errors.New("seat.user_id (TABLE_USER_ID) is required"))
	}
	if c.Seat.Token == "" {
		errs = append(errs, errors.New("seat.token (TABLE_TOKEN) is required"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
