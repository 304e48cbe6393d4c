// Package llm produces auto-reply text from a system instruction and the latest user message.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStatic    = "static"

	DefaultAnthropicModel = "claude-3-5-haiku-latest"

	// FallbackReply is sent when no model is configured.
	FallbackReply = "No tengo configurada la IA todavía. En un momento te atiende un vendedor."
)

var ErrGenerate = errors.New("reply generation failed")

// Generator returns the reply text, possibly empty.
type Generator interface {
	Generate(ctx context.Context, system, userText string) (string, error)
}

type Options struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
}

// New picks a generator for opts. Without an API key every provider degrades
// to the static fallback reply.
func New(opts Options, logger *slog.Logger) Generator {
	if opts.APIKey == "" || opts.Provider == ProviderStatic {
		logger.Info("llm: using static fallback reply", slog.String("provider", opts.Provider))
		return Static{Reply: FallbackReply}
	}
	switch opts.Provider {
	case ProviderAnthropic:
		if opts.Model == "" || strings.HasPrefix(opts.Model, "gpt-") {
			opts.Model = DefaultAnthropicModel
		}
		return NewAnthropic(opts)
	default:
		return NewOpenAI(opts)
	}
}

// Static always answers with the same text.
type Static struct {
	Reply string
}

func (s Static) Generate(context.Context, string, string) (string, error) {
	return s.Reply, nil
}
