package embeddings

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/coverline/coverline/internal/config"
)

// Module provides the embeddings fx.Module.
var Module = fx.Module("embeddings",
	fx.Provide(NewClient),
)

// NewClient builds the provider client from configuration. When no provider
// is configured the noop client is returned and the embed stage produces
// nothing; jobs dead-letter at the embedding stage rather than hanging.
func NewClient(cfg *config.Config, log *slog.Logger) Client {
	embCfg := cfg.Embeddings

	if !embCfg.IsEnabled() {
		log.Info("embeddings disabled - no provider configured")
		return NewNoopClient()
	}

	log.Info("initializing embedding provider client",
		slog.String("base_url", embCfg.BaseURL),
		slog.String("model", embCfg.Model),
		slog.Int("dimension", embCfg.Dimension),
	)

	return NewHTTPClient(HTTPClientConfig{
		BaseURL:           embCfg.BaseURL,
		APIKey:            embCfg.APIKey,
		Model:             embCfg.Model,
		ModelVersion:      embCfg.ModelVersion,
		Dimension:         embCfg.Dimension,
		Timeout:           embCfg.Timeout(),
		RequestsPerSecond: embCfg.RequestsPerSecond,
		Burst:             embCfg.Burst,
	}, log)
}
