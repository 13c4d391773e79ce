// Package openai connects to OpenAI and OpenAI-compatible endpoints, Groq
// included: chat, completions, image generation and image description.
package openai

import (
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/models"
	"github.com/artkit-ai/artkit/pkg/retry"
)

const (
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
	GroqAPIKeyEnv    = "GROQ_API_KEY"
	GroqBaseURL      = "https://api.groq.com/openai/v1"
)

// ErrNoChoices is returned when the provider answers without any choices.
var ErrNoChoices = errors.New("response has no choices")

var clients = connector.NewRegistry[sdk.Client]()

// CloseClients releases every shared client. Call it once at shutdown.
func CloseClients() error {
	return clients.Close()
}

// Config configures a connector.
type Config struct {
	connector.Config
	// Provider names the service in errors and logs. Defaults to "openai".
	Provider string
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
	// Clients overrides the package-wide client registry.
	Clients *connector.Registry[sdk.Client]
}

// GroqConfig returns cfg pointed at Groq's OpenAI-compatible endpoint.
func GroqConfig(cfg Config) Config {
	if cfg.Provider == "" {
		cfg.Provider = "groq"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = GroqBaseURL
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = GroqAPIKeyEnv
	}
	return cfg
}

// session holds what chat and completion connectors share: the validated
// base settings and a reference to the shared SDK client.
type session struct {
	*connector.Base
	provider   string
	baseURL    string
	httpClient *http.Client
	registry   *connector.Registry[sdk.Client]
	client     sdk.Client
	release    func()
}

func newSession(cfg Config) (*session, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Clients == nil {
		cfg.Clients = clients
	}
	base, err := connector.New(cfg.Config)
	if err != nil {
		return nil, err
	}
	s := &session{
		Base:       base,
		provider:   cfg.Provider,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		registry:   cfg.Clients,
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) acquire() error {
	key := s.Key()
	key.Endpoint = s.baseURL
	client, release, err := s.registry.Acquire(key, s.newClient)
	if err != nil {
		return fmt.Errorf("acquire %s client for %s: %w", s.provider, s.ModelID(), err)
	}
	s.client = client
	s.release = release
	return nil
}

// clone returns a session sharing the client under a new reference. If
// the registry is already closed the clone keeps using the client without
// holding a reference.
func (s *session) clone() *session {
	c := *s
	if err := c.acquire(); err != nil {
		c.Logger().Warn("reusing client without a registry reference")
		c.release = func() {}
	}
	return &c
}

func (s *session) newClient() (sdk.Client, error) {
	key, err := s.APIKey()
	if err != nil {
		return sdk.Client{}, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		opts = append(opts, option.WithBaseURL(s.baseURL))
	}
	if s.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(s.httpClient))
	}
	return sdk.NewClient(opts...), nil
}

// Close releases the connector's reference to the shared client.
func (s *session) Close() error {
	s.release()
	return nil
}

func (s *session) translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &retry.RateLimitError{Provider: s.provider, Err: err}
	}
	return fmt.Errorf("%s request for %s: %w", s.provider, s.ModelID(), err)
}

func setFloat(params models.Params, name string, dst *param.Opt[float64]) error {
	v, ok, err := connector.Float(params, name)
	if ok {
		*dst = sdk.Float(v)
	}
	return err
}

func setInt(params models.Params, name string, dst *param.Opt[int64]) error {
	v, ok, err := connector.Int(params, name)
	if ok {
		*dst = sdk.Int(v)
	}
	return err
}
