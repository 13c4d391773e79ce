package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

const defaultMaxTokens = 1024

var chatParams = []string{"max_tokens", "temperature", "top_p", "top_k", "stop_sequences"}

// ErrEmptyResponse is returned when a response has no text content.
var ErrEmptyResponse = errors.New("response has no text content")

var clients = connector.NewRegistry[*Client]()

// CloseClients releases every shared client. Call it once at shutdown.
func CloseClients() error {
	return clients.Close()
}

// Config configures a Chat.
type Config struct {
	connector.Config
	BaseURL    string
	HTTPClient *http.Client
	// Clients overrides the package-wide client registry.
	Clients *connector.Registry[*Client]
}

// Chat is a ChatModel backed by the Messages API.
type Chat struct {
	*connector.Base
	baseURL      string
	httpClient   *http.Client
	registry     *connector.Registry[*Client]
	client       *Client
	release      func()
	systemPrompt string
}

// NewChat returns a chat connector. The API key must be set in the
// configured environment variable.
func NewChat(cfg Config) (*Chat, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Clients == nil {
		cfg.Clients = clients
	}
	base, err := connector.New(cfg.Config)
	if err != nil {
		return nil, err
	}
	c := &Chat{
		Base:       base,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		registry:   cfg.Clients,
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chat) acquire() error {
	key := c.Key()
	key.Endpoint = c.baseURL
	client, release, err := c.registry.Acquire(key, func() (*Client, error) {
		key, err := c.APIKey()
		if err != nil {
			return nil, err
		}
		return NewClient(c.baseURL, key, c.httpClient)
	})
	if err != nil {
		return fmt.Errorf("acquire anthropic client for %s: %w", c.ModelID(), err)
	}
	c.client = client
	c.release = release
	return nil
}

func (c *Chat) SystemPrompt() string { return c.systemPrompt }

// WithSystemPrompt returns a copy of c that shares its client.
func (c *Chat) WithSystemPrompt(prompt string) llm.ChatModel {
	cp := *c
	cp.systemPrompt = prompt
	if err := cp.acquire(); err != nil {
		cp.Logger().Warn("reusing client without a registry reference", zap.Error(err))
		cp.release = func() {}
	}
	return &cp
}

// Close releases the connector's reference to the shared client.
func (c *Chat) Close() error {
	c.release()
	return nil
}

// Respond sends the history and message. Each text block of the reply is
// returned as a separate response.
func (c *Chat) Respond(ctx context.Context, message string, history *llm.History, params models.Params) ([]string, error) {
	req, err := c.request(message, history, c.MergeParams(params))
	if err != nil {
		return nil, fmt.Errorf("anthropic chat %s: %w", c.ModelID(), err)
	}
	return connector.Do(ctx, c.Base, func(ctx context.Context) ([]string, error) {
		resp, err := c.client.Messages(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Usage != nil {
			c.Logger().Debug("anthropic usage",
				zap.Int("input_tokens", resp.Usage.InputTokens),
				zap.Int("output_tokens", resp.Usage.OutputTokens),
			)
		}
		var out []string
		for _, block := range resp.Content {
			if block.Type == "text" {
				out = append(out, block.Text)
			}
		}
		if len(out) == 0 {
			return nil, ErrEmptyResponse
		}
		return out, nil
	})
}

func (c *Chat) request(message string, history *llm.History, params models.Params) (models.AnthropicRequest, error) {
	req := models.AnthropicRequest{
		Model:     c.ModelID(),
		System:    c.systemPrompt,
		MaxTokens: defaultMaxTokens,
	}
	if err := connector.Unsupported(params, chatParams...); err != nil {
		return req, err
	}
	for _, m := range history.Messages(0) {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			return req, fmt.Errorf("unsupported history role %q", m.Role)
		}
		req.Messages = append(req.Messages, m)
	}
	req.Messages = append(req.Messages, models.ChatMessage{Role: models.RoleUser, Content: message})

	if v, ok, err := connector.Int(params, "max_tokens"); err != nil {
		return req, err
	} else if ok {
		req.MaxTokens = int(v)
	}
	if v, ok, err := connector.Int(params, "top_k"); err != nil {
		return req, err
	} else if ok {
		k := int(v)
		req.TopK = &k
	}
	if v, ok, err := connector.Float(params, "temperature"); err != nil {
		return req, err
	} else if ok {
		req.Temperature = &v
	}
	if v, ok, err := connector.Float(params, "top_p"); err != nil {
		return req, err
	} else if ok {
		req.TopP = &v
	}
	stop, _, err := connector.Strings(params, "stop_sequences")
	if err != nil {
		return req, err
	}
	req.StopSequences = stop
	return req, nil
}
