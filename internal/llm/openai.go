package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	oaoption "github.com/openai/openai-go/v3/option"
)

type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAI(opts Options) *OpenAI {
	reqOpts := []oaoption.RequestOption{
		oaoption.WithAPIKey(opts.APIKey),
		oaoption.WithMaxRetries(1),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, oaoption.WithBaseURL(opts.BaseURL))
	}
	return &OpenAI{
		client:      openai.NewClient(reqOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
	}
}

func (o *OpenAI) Generate(ctx context.Context, system, userText string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(userText),
		},
		Temperature: openai.Float(o.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", ErrGenerate, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
