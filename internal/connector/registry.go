package connector

import (
	"log/slog"
	"stardaemon/internal/config"
	"stardaemon/internal/ratelimiter"
)

// Build constructs a connector for every enabled platform, in a fixed order.
// Each one is paced so a batch of new stars does not trip platform limits.
// Nothing is contacted until Activate.
func Build(cfg config.Config, log *slog.Logger) []Connector {
	var connectors []Connector

	if cfg.Mastodon.Enabled {
		connectors = append(connectors,
			ratelimiter.New(NewMastodon(cfg.Mastodon, log), ratelimiter.DefaultRate, log))
	}
	if cfg.BlueSky.Enabled {
		connectors = append(connectors,
			ratelimiter.New(NewBlueSky(cfg.BlueSky, log), ratelimiter.DefaultRate, log))
	}
	if cfg.Discord.Enabled {
		connectors = append(connectors,
			ratelimiter.New(NewDiscord(cfg.Discord, log), ratelimiter.DiscordWebhookRate, log))
	}
	if cfg.Matrix.Enabled {
		connectors = append(connectors,
			ratelimiter.New(NewMatrix(cfg.Matrix, log), ratelimiter.DefaultRate, log))
	}
	if cfg.Telegram.Enabled {
		connectors = append(connectors,
			ratelimiter.New(NewTelegram(cfg.Telegram, log), ratelimiter.TelegramRate(cfg.Telegram.ChatID), log))
	}

	return connectors
}
