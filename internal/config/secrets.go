package config

import "maps"

const redacted = "***"

// Redacted returns a copy of cfg with secrets masked, for logging. Slices
// and maps are copied so the result cannot alias cfg.
func Redacted(cfg *Config) Config {
	out := *cfg

	redact(&out.Alpaca.APIKey)
	redact(&out.Alpaca.APISecret)
	redact(&out.Alpaca.SecretPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	if cfg.Strategy.Params != nil {
		out.Strategy.Params = maps.Clone(cfg.Strategy.Params)
	}
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
