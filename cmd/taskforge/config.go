package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"taskforge-sync/domain"
)

// Config is the client daemon configuration. Values are layered as
// defaults, then the config file, then TASKFORGE_* variables, then flags.
type Config struct {
	ServerURL         string        `env:"TASKFORGE_SERVER_URL"`
	SocketURL         string        `env:"TASKFORGE_SOCKET_URL"`
	Token             string        `env:"TASKFORGE_TOKEN"`
	UserID            string        `env:"TASKFORGE_USER"`
	Board             string        `env:"TASKFORGE_BOARD"`
	PreferencesPath   string        `env:"TASKFORGE_PREFERENCES"`
	RedisConn         string        `env:"TASKFORGE_REDIS"`
	CacheTTL          time.Duration `env:"TASKFORGE_CACHE_TTL"`
	ReconnectAttempts int           `env:"TASKFORGE_RECONNECT_ATTEMPTS"`
	Debug             bool          `env:"TASKFORGE_DEBUG"`

	// One-shot move applied once the board is loaded.
	MoveCard    string
	MoveTo      domain.ListName
	MoveToIndex int
}

// fileConfig mirrors Config for the JSON-with-comments config file. Unset
// keys leave the lower layer untouched.
type fileConfig struct {
	ServerURL         *string `json:"serverUrl"`
	SocketURL         *string `json:"socketUrl"`
	Token             *string `json:"token"`
	UserID            *string `json:"user"`
	Board             *string `json:"board"`
	PreferencesPath   *string `json:"preferences"`
	RedisConn         *string `json:"redis"`
	CacheTTL          *string `json:"cacheTtl"`
	ReconnectAttempts *int    `json:"reconnectAttempts"`
	Debug             *bool   `json:"debug"`
}

func defaultConfig() Config {
	return Config{
		ServerURL:         "http://localhost:8080",
		CacheTTL:          30 * time.Second,
		ReconnectAttempts: 5,
	}
}

// WebsocketURL returns SocketURL, or the /ws endpoint of ServerURL.
func (c Config) WebsocketURL() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	u := strings.TrimSuffix(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func (c Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache ttl must not be negative")
	}
	if c.ReconnectAttempts <= 0 {
		return errors.New("reconnect attempts must be greater than zero")
	}
	if c.RedisConn != "" && c.UserID == "" {
		return errors.New("user is required to keep preferences in redis")
	}
	if c.MoveCard != "" && !c.MoveTo.Valid() {
		return fmt.Errorf("unknown list %q", c.MoveTo)
	}
	return nil
}

// loadConfig builds the configuration from args and environ. A nil environ
// reads the process environment.
func loadConfig(args []string, environ map[string]string) (Config, error) {
	fs := flag.NewFlagSet("taskforge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.StringP("config", "c", "", "path to a JSON config file (comments allowed)")
	serverURL := fs.String("server", "", "board API base url")
	socketURL := fs.String("socket", "", "websocket url, derived from --server when empty")
	token := fs.String("token", "", "bearer token")
	user := fs.String("user", "", "user id for redis preferences")
	boardID := fs.StringP("board", "b", "", "board to open, defaults to the last visited board")
	prefs := fs.String("preferences", "", "preferences file path")
	redisConn := fs.String("redis", "", "redis connection string for shared preferences and board cache")
	cacheTTL := fs.Duration("cache-ttl", 0, "board cache ttl")
	attempts := fs.Int("reconnect-attempts", 0, "reconnect attempts before giving up")
	debug := fs.Bool("debug", false, "enable debug logging")
	moveCard := fs.String("move", "", "card id to move once the board is loaded")
	moveTo := fs.String("to", "", "destination list for --move")
	moveIndex := fs.Int("index", 0, "destination index for --move")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()

	path := *configPath
	if path == "" {
		if environ != nil {
			path = environ["TASKFORGE_CONFIG"]
		} else {
			path = os.Getenv("TASKFORGE_CONFIG")
		}
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if fs.Changed("server") {
		cfg.ServerURL = *serverURL
	}
	if fs.Changed("socket") {
		cfg.SocketURL = *socketURL
	}
	if fs.Changed("token") {
		cfg.Token = *token
	}
	if fs.Changed("user") {
		cfg.UserID = *user
	}
	if fs.Changed("board") {
		cfg.Board = *boardID
	}
	if fs.Changed("preferences") {
		cfg.PreferencesPath = *prefs
	}
	if fs.Changed("redis") {
		cfg.RedisConn = *redisConn
	}
	if fs.Changed("cache-ttl") {
		cfg.CacheTTL = *cacheTTL
	}
	if fs.Changed("reconnect-attempts") {
		cfg.ReconnectAttempts = *attempts
	}
	if fs.Changed("debug") {
		cfg.Debug = *debug
	}
	cfg.MoveCard = *moveCard
	cfg.MoveTo = domain.ListName(*moveTo)
	cfg.MoveToIndex = *moveIndex

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	data, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	var fc fileConfig
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	setString(&c.ServerURL, fc.ServerURL)
	setString(&c.SocketURL, fc.SocketURL)
	setString(&c.Token, fc.Token)
	setString(&c.UserID, fc.UserID)
	setString(&c.Board, fc.Board)
	setString(&c.PreferencesPath, fc.PreferencesPath)
	setString(&c.RedisConn, fc.RedisConn)
	if fc.CacheTTL != nil {
		d, err := time.ParseDuration(*fc.CacheTTL)
		if err != nil {
			return fmt.Errorf("config %s: cacheTtl: %w", path, err)
		}
		c.CacheTTL = d
	}
	if fc.ReconnectAttempts != nil {
		c.ReconnectAttempts = *fc.ReconnectAttempts
	}
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
