package config

import "log/slog"

// MaskedSecretValue stands in for secrets in log output.
const MaskedSecretValue = "**********"

// LogValue renders the configuration with the API key masked.
func (c Config) LogValue() slog.Value {
	apiKey := ""
	if c.APIKey != "" {
		apiKey = MaskedSecretValue
	}
	return slog.GroupValue(
		slog.String("api_key", apiKey),
		slog.String("endpoint", c.Endpoint),
		slog.Int("top_k", c.TopK),
		slog.String("otlp_endpoint", c.Telemetry.OTLPEndpoint),
		slog.String("source", c.Source),
	)
}
