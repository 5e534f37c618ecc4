package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"stardaemon/internal/domain"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"

	defaultStateFileName = ".star-daemon-state.json"
)

// Flag is a boolean that accepts true/1/yes/on, case-insensitively.
// Anything else is false.
type Flag bool

func (f *Flag) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "true", "1", "yes", "on":
		*f = true
	default:
		*f = false
	}

	return nil
}

type Config struct {
	GitHubToken    string `env:"GITHUB_ACCESS_TOKEN,required,notEmpty"`
	GitHubUsername string `env:"GITHUB_USERNAME"`
	GitHubAPIURL   string `env:"GITHUB_API_URL"`

	CheckIntervalSeconds   int    `env:"CHECK_INTERVAL"   envDefault:"60"`
	LogLevel               string `env:"LOG_LEVEL"        envDefault:"INFO"`
	DispatchTimeoutSeconds int    `env:"DISPATCH_TIMEOUT" envDefault:"30"`
	StatusAddr             string `env:"STATUS_ADDR"`
	OpenAIAPIKey           string `env:"OPENAI_API_KEY"`

	MessageTemplate    string `env:"MESSAGE_TEMPLATE"    envDefault:"I just starred a new repository on GitHub: {url}"`
	IncludeDescription Flag   `env:"INCLUDE_DESCRIPTION"`
	MaxMessageLength   int    `env:"MAX_MESSAGE_LENGTH"  envDefault:"500"`
	NotifyOnFirstRun   Flag   `env:"NOTIFY_ON_FIRST_RUN"`

	StateBackend string `env:"STATE_BACKEND" envDefault:"file"`
	StateFile    string `env:"STATE_FILE"`
	StateDBPath  string `env:"STATE_DB_PATH" envDefault:"star-daemon.sqlite"`

	Mastodon MastodonConfig `envPrefix:"MASTODON_"`
	BlueSky  BlueSkyConfig  `envPrefix:"BLUESKY_"`
	Discord  DiscordConfig  `envPrefix:"DISCORD_"`
	Matrix   MatrixConfig   `envPrefix:"MATRIX_"`
	Telegram TelegramConfig `envPrefix:"TELEGRAM_"`
}

type MastodonConfig struct {
	Enabled      Flag   `env:"ENABLED"`
	APIBaseURL   string `env:"API_BASE_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	AccessToken  string `env:"ACCESS_TOKEN"`
	Visibility   string `env:"VISIBILITY"    envDefault:"public"`
}

type BlueSkyConfig struct {
	Enabled     Flag   `env:"ENABLED"`
	Handle      string `env:"HANDLE"`
	AppPassword string `env:"APP_PASSWORD"`
	PDSURL      string `env:"PDS_URL"      envDefault:"https://bsky.social"`
}

type DiscordConfig struct {
	Enabled     Flag   `env:"ENABLED"`
	WebhookURL  string `env:"WEBHOOK_URL"`
	RoleID      string `env:"ROLE_ID"`
	TestOnStart Flag   `env:"TEST_ON_START"`
}

type MatrixConfig struct {
	Enabled     Flag   `env:"ENABLED"`
	Homeserver  string `env:"HOMESERVER"`
	UserID      string `env:"USER_ID"`
	Password    string `env:"PASSWORD"`
	AccessToken string `env:"ACCESS_TOKEN"`
	RoomID      string `env:"ROOM_ID"`
}

type TelegramConfig struct {
	Enabled  Flag   `env:"ENABLED"`
	BotToken string `env:"BOT_TOKEN"`
	ChatID   string `env:"CHAT_ID"`
}

// Load reads an optional .env file, parses the environment and validates the
// result. Every returned error wraps domain.ErrConfiguration.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: load .env file: %w", domain.ErrConfiguration, err)
	}

	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Parse reads the process environment without validating it.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse environment: %w", domain.ErrConfiguration, err)
	}

	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	if strings.TrimSpace(cfg.StateFile) == "" {
		cfg.StateFile = defaultStateFile()
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if !c.AnyPlatformEnabled() {
		errs = append(errs, errors.New(
			"no platforms enabled, enable at least one of Mastodon, BlueSky, Discord, Matrix or Telegram"))
	}

	if c.Mastodon.Enabled && (c.Mastodon.APIBaseURL == "" || c.Mastodon.AccessToken == "") {
		errs = append(errs, errors.New("mastodon enabled but missing API base URL or access token"))
	}

	if c.BlueSky.Enabled && (c.BlueSky.Handle == "" || c.BlueSky.AppPassword == "") {
		errs = append(errs, errors.New("bluesky enabled but missing handle or app password"))
	}

	if c.Discord.Enabled && c.Discord.WebhookURL == "" {
		errs = append(errs, errors.New("discord enabled but missing webhook URL"))
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.RoomID == "" {
			errs = append(errs, errors.New("matrix enabled but missing homeserver, user ID or room ID"))
		}
		if c.Matrix.Password == "" && c.Matrix.AccessToken == "" {
			errs = append(errs, errors.New("matrix enabled but missing password or access token"))
		}
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("telegram enabled but missing bot token or chat ID"))
	}

	if c.CheckIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("CHECK_INTERVAL must be at least 1 second, got %d", c.CheckIntervalSeconds))
	}

	if c.DispatchTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("DISPATCH_TIMEOUT must be at least 1 second, got %d", c.DispatchTimeoutSeconds))
	}

	if c.MaxMessageLength < 1 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive, got %d", c.MaxMessageLength))
	}

	if strings.TrimSpace(c.MessageTemplate) == "" {
		errs = append(errs, errors.New("MESSAGE_TEMPLATE is empty"))
	}

	switch c.StateBackend {
	case StateBackendFile, StateBackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be %q or %q, got %q",
			StateBackendFile, StateBackendSQLite, c.StateBackend))
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
}

func (c Config) AnyPlatformEnabled() bool {
	return bool(c.Mastodon.Enabled || c.BlueSky.Enabled || c.Discord.Enabled || c.Matrix.Enabled || c.Telegram.Enabled)
}

func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

func (c Config) EnabledPlatforms() []string {
	var platforms []string

	if c.Mastodon.Enabled {
		platforms = append(platforms, "Mastodon")
	}
	if c.BlueSky.Enabled {
		platforms = append(platforms, "BlueSky")
	}
	if c.Discord.Enabled {
		platforms = append(platforms, "Discord")
	}
	if c.Matrix.Enabled {
		platforms = append(platforms, "Matrix")
	}
	if c.Telegram.Enabled {
		platforms = append(platforms, "Telegram")
	}

	return platforms
}

// LogAttrs describes the configuration for the startup log line. It never
// includes credentials.
func (c Config) LogAttrs() []any {
	return []any{
		"githubUsername", c.GitHubUsername,
		"checkInterval", c.CheckInterval().String(),
		"logLevel", c.LogLevel,
		"platforms", c.EnabledPlatforms(),
		"stateBackend", c.StateBackend,
		"stateFile", c.StateFile,
		"stateDBPath", c.StateDBPath,
		"notifyOnFirstRun", bool(c.NotifyOnFirstRun),
		"summarizer", c.OpenAIAPIKey != "",
		"statusAddr", c.StatusAddr,
	}
}

// SlogLevel maps LOG_LEVEL to a slog level. ok is false for unknown values,
// which map to info.
func (c Config) SlogLevel() (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR", "CRITICAL":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return defaultStateFileName
	}

	return filepath.Join(home, defaultStateFileName)
}
