package vision

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/resilience"
)

const defaultMaxTokens = 4096

// anthropicClient implements Client with the Anthropic Messages API.
type anthropicClient struct {
	client sdk.Client
	model  string
}

// NewAnthropicClient returns a Client for cfg. SDK retries are disabled;
// wrap the client with Guard to retry.
func NewAnthropicClient(cfg Config, deviceID string) Client {
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
	return &anthropicClient{
		client: sdk.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (c *anthropicClient) Analyze(ctx context.Context, req Request) (*Response, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, 2)
	if req.Image != nil {
		blocks = append(blocks, sdk.NewImageBlockBase64(req.Image.MIMEType, req.Image.Base64()))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(classifyAnthropic(err), "vision: anthropic message")
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Response{
		Text:  text.String(),
		Model: string(msg.Model),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

func (c *anthropicClient) Close() error { return nil }

func classifyAnthropic(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(err, apiErr.StatusCode)
	}
	return err
}
