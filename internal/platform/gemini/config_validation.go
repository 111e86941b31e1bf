package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/jobstream/internal/config"
)

// validateConfig checks the settings a live client needs.
func validateConfig(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) error {
	if cfg.GeminiAPIKey == "" {
		logger.ErrorContext(ctx, "missing gemini api key")
		return fmt.Errorf("%w: gemini api key cannot be empty", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		logger.ErrorContext(ctx, "missing gemini model name")
		return fmt.Errorf("%w: model cannot be empty", ErrInvalidConfig)
	}
	return nil
}
