package config_test

import (
	"errors"
	"log/slog"
	"stardaemon/internal/config"
	"stardaemon/internal/domain"
	"strings"
	"testing"
	"time"
	"unicode"
)

func setBaseEnv(t *testing.T) {
	t.Helper()

	t.Setenv("GITHUB_ACCESS_TOKEN", "ghp_test")
	t.Setenv("STATE_FILE", t.TempDir()+"/state.json")
}

func TestParseDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CheckInterval() != time.Minute {
		t.Fatalf("unexpected interval: %s", cfg.CheckInterval())
	}
	if cfg.MessageTemplate != "I just starred a new repository on GitHub: {url}" {
		t.Fatalf("unexpected template: %q", cfg.MessageTemplate)
	}
	if cfg.MaxMessageLength != 500 {
		t.Fatalf("unexpected max message length: %d", cfg.MaxMessageLength)
	}
	if cfg.StateBackend != config.StateBackendFile {
		t.Fatalf("unexpected state backend: %q", cfg.StateBackend)
	}
	if cfg.BlueSky.PDSURL != "https://bsky.social" {
		t.Fatalf("unexpected PDS URL: %q", cfg.BlueSky.PDSURL)
	}
	if cfg.Mastodon.Visibility != "public" {
		t.Fatalf("unexpected visibility: %q", cfg.Mastodon.Visibility)
	}
	if cfg.NotifyOnFirstRun {
		t.Fatalf("expected first-run notifications to be disabled by default")
	}
}

func TestParseMissingTokenIsConfigurationError(t *testing.T) {
	t.Setenv("GITHUB_ACCESS_TOKEN", "")

	_, err := config.Parse()
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFlagAcceptsTruthyWords(t *testing.T) {
	for _, value := range []string{"true", "1", "yes", "on", "YES", " On "} {
		var f config.Flag
		if err := f.UnmarshalText([]byte(value)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !f {
			t.Fatalf("expected %q to be true", value)
		}
	}

	for _, value := range []string{"false", "0", "no", "off", "", "maybe"} {
		f := config.Flag(true)
		if err := f.UnmarshalText([]byte(value)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f {
			t.Fatalf("expected %q to be false", value)
		}
	}
}

func TestValidateRequiresPlatform(t *testing.T) {
	setBaseEnv(t)

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = cfg.Validate()
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no platforms enabled") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePlatformRequirements(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MASTODON_ENABLED", "yes")
	t.Setenv("MATRIX_ENABLED", "on")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@bot:example.org")
	t.Setenv("MATRIX_ROOM_ID", "!room:example.org")

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	msg := err.Error()
	if !strings.Contains(msg, "mastodon enabled but missing") {
		t.Fatalf("expected Mastodon error, got %v", err)
	}
	if !strings.Contains(msg, "matrix enabled but missing password or access token") {
		t.Fatalf("expected Matrix credential error, got %v", err)
	}
	if strings.Contains(msg, "no platforms enabled") {
		t.Fatalf("did not expect platform error, got %v", err)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DISCORD_ENABLED", "true")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/abc")
	t.Setenv("CHECK_INTERVAL", "15")
	t.Setenv("STATE_BACKEND", "SQLite")

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err = cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if cfg.CheckInterval() != 15*time.Second {
		t.Fatalf("unexpected interval: %s", cfg.CheckInterval())
	}
	if cfg.StateBackend != config.StateBackendSQLite {
		t.Fatalf("expected backend to be normalized, got %q", cfg.StateBackend)
	}
	if got := cfg.EnabledPlatforms(); len(got) != 1 || got[0] != "Discord" {
		t.Fatalf("unexpected platforms: %v", got)
	}
}

func TestValidateRejectsBadInterval(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TELEGRAM_ENABLED", "1")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("CHECK_INTERVAL", "0")

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err = cfg.Validate(); err == nil || !strings.Contains(err.Error(), "CHECK_INTERVAL") {
		t.Fatalf("expected interval error, got %v", err)
	}
}

func TestLogAttrsOmitCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BLUESKY_ENABLED", "true")
	t.Setenv("BLUESKY_HANDLE", "me.bsky.social")
	t.Setenv("BLUESKY_APP_PASSWORD", "super-secret")
	t.Setenv("OPENAI_API_KEY", "sk-secret")

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var b strings.Builder
	log := slog.New(slog.NewTextHandler(&b, nil))
	log.Info("Config", cfg.LogAttrs()...)

	out := b.String()
	for _, secret := range []string{"ghp_test", "super-secret", "sk-secret"} {
		if strings.Contains(out, secret) {
			t.Fatalf("log output leaks credential %q: %s", secret, out)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"WARNING":  slog.LevelWarn,
		"CRITICAL": slog.LevelError,
	}

	for raw, want := range cases {
		got, ok := config.Config{LogLevel: raw}.SlogLevel()
		if !ok || got != want {
			t.Fatalf("SlogLevel(%q) = %v, %v; want %v", raw, got, ok, want)
		}
	}

	if _, ok := (config.Config{LogLevel: "verbose"}).SlogLevel(); ok {
		t.Fatalf("expected unknown level to be reported")
	}
}

func TestValidateMessagesStartLowercase(t *testing.T) {
	setBaseEnv(t)
	for _, platform := range []string{"MASTODON", "BLUESKY", "DISCORD", "MATRIX", "TELEGRAM"} {
		t.Setenv(platform+"_ENABLED", "true")
	}

	cfg, err := config.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	msg := strings.TrimPrefix(err.Error(), domain.ErrConfiguration.Error()+": ")
	lines := strings.Split(msg, "\n")
	if len(lines) < 5 {
		t.Fatalf("expected one message per platform, got %q", msg)
	}

	for _, line := range lines {
		if line == "" || unicode.IsUpper([]rune(line)[0]) {
			t.Fatalf("expected message to start lowercase: %q", line)
		}
	}
}
