package config

import "maps"

// Redacted returns a copy of c with secrets replaced by "***", for logging.
// Slices and maps are copied so the result can be modified freely.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Run.Symbols = append([]string(nil), c.Run.Symbols...)
	out.Run.Fees.Tiers = append([]Tier(nil), c.Run.Fees.Tiers...)
	out.Run.Strategy.Params = maps.Clone(c.Run.Strategy.Params)
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
