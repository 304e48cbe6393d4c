package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 512

type Anthropic struct {
	client      anthropic.Client
	model       string
	temperature float64
}

func NewAnthropic(opts Options) *Anthropic {
	reqOpts := []antoption.RequestOption{
		antoption.WithAPIKey(opts.APIKey),
		antoption.WithMaxRetries(1),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, antoption.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		client:      anthropic.NewClient(reqOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
	}
}

func (a *Anthropic) Generate(ctx context.Context, system, userText string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(a.temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %v", ErrGenerate, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
