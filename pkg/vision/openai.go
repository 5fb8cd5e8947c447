package vision

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/resilience"
)

// openaiClient implements Client with the Chat Completions API. It also
// serves self-hosted OpenAI-compatible VL servers through BaseURL or
// per-device endpoints.
type openaiClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient returns a Client for cfg bound to deviceID.
func NewOpenAIClient(cfg Config, deviceID string) Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if u := cfg.baseURLFor(deviceID); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if deviceID != "" {
		opts = append(opts, option.WithHeader(DeviceHeader, deviceID))
	}
	return &openaiClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (c *openaiClient) Analyze(ctx context.Context, req Request) (*Response, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, 2)
	if req.Image != nil {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: req.Image.DataURL(),
		}))
	}
	parts = append(parts, openai.TextContentPart(req.Prompt))

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(parts))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: openai.Int(maxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(classifyOpenAI(err), "vision: openai completion")
	}
	if len(completion.Choices) == 0 {
		return nil, eris.New("vision: openai returned no choices")
	}
	return &Response{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}, nil
}

func (c *openaiClient) Close() error { return nil }

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(err, apiErr.StatusCode)
	}
	return err
}
