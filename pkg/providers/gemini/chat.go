package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/connector"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

// DefaultVisionPrompt is asked when ImageToText gets no prompt.
const DefaultVisionPrompt = "What's in this image?"

var generationParams = []string{
	"temperature", "top_p", "top_k", "max_output_tokens", "candidate_count",
	"stop_sequences", "safety",
}

// Harm categories relaxed to BLOCK_NONE when the safety parameter is false.
var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// ErrEmptyResponse is returned when no candidate carries text.
var ErrEmptyResponse = errors.New("response has no text content")

var clients = connector.NewRegistry[*Client]()

// CloseClients releases every shared client. Call it once at shutdown.
func CloseClients() error {
	return clients.Close()
}

// Config configures a connector.
type Config struct {
	connector.Config
	BaseURL    string
	HTTPClient *http.Client
	// Clients overrides the package-wide client registry.
	Clients *connector.Registry[*Client]
}

type session struct {
	*connector.Base
	baseURL    string
	httpClient *http.Client
	registry   *connector.Registry[*Client]
	client     *Client
	release    func()
}

func newSession(cfg Config) (*session, error) {
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
	s := &session{
		Base:       base,
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
	client, release, err := s.registry.Acquire(key, func() (*Client, error) {
		apiKey, err := s.APIKey()
		if err != nil {
			return nil, err
		}
		return NewClient(s.baseURL, apiKey, s.httpClient)
	})
	if err != nil {
		return fmt.Errorf("acquire gemini client for %s: %w", s.ModelID(), err)
	}
	s.client = client
	s.release = release
	return nil
}

// Close releases the connector's reference to the shared client.
func (s *session) Close() error {
	s.release()
	return nil
}

// generate sends contents and returns the text of every candidate.
func (s *session) generate(ctx context.Context, req models.GeminiRequest) ([]string, error) {
	return connector.Do(ctx, s.Base, func(ctx context.Context) ([]string, error) {
		resp, err := s.client.GenerateContent(ctx, s.ModelID(), req)
		if err != nil {
			return nil, err
		}
		if u := resp.UsageMetadata; u != nil {
			s.Logger().Debug("gemini usage",
				zap.Int("prompt_tokens", u.PromptTokenCount),
				zap.Int("candidate_tokens", u.CandidatesTokenCount),
			)
		}
		var out []string
		for _, cand := range resp.Candidates {
			var b strings.Builder
			for _, part := range cand.Content.Parts {
				b.WriteString(part.Text)
			}
			if b.Len() > 0 {
				out = append(out, b.String())
			}
		}
		if len(out) == 0 {
			if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
				return nil, fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, fb.BlockReason)
			}
			return nil, ErrEmptyResponse
		}
		return out, nil
	})
}

// Chat is a ChatModel backed by generateContent.
type Chat struct {
	*session
	systemPrompt string
}

// NewChat returns a chat connector. The API key must be set in the
// configured environment variable.
func NewChat(cfg Config) (*Chat, error) {
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Chat{session: s}, nil
}

func (c *Chat) SystemPrompt() string { return c.systemPrompt }

// WithSystemPrompt returns a copy of c that shares its client.
func (c *Chat) WithSystemPrompt(prompt string) llm.ChatModel {
	s := *c.session
	if err := s.acquire(); err != nil {
		s.Logger().Warn("reusing client without a registry reference", zap.Error(err))
		s.release = func() {}
	}
	return &Chat{session: &s, systemPrompt: prompt}
}

// Respond sends the history and message. Each candidate is one response.
func (c *Chat) Respond(ctx context.Context, message string, history *llm.History, params models.Params) ([]string, error) {
	req, err := generationRequest(c.MergeParams(params))
	if err != nil {
		return nil, fmt.Errorf("gemini chat %s: %w", c.ModelID(), err)
	}
	if c.systemPrompt != "" {
		req.SystemInstruction = &models.GeminiContent{Parts: []models.GeminiPart{{Text: c.systemPrompt}}}
	}
	for _, m := range history.Messages(0) {
		role, err := contentRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("gemini chat %s: %w", c.ModelID(), err)
		}
		req.Contents = append(req.Contents, models.GeminiContent{Role: role, Parts: []models.GeminiPart{{Text: m.Content}}})
	}
	req.Contents = append(req.Contents, models.GeminiContent{Role: "user", Parts: []models.GeminiPart{{Text: message}}})
	return c.generate(ctx, req)
}

// Vision is a VisionModel that sends the image inline.
type Vision struct {
	*session
}

// NewVision returns an image description connector.
func NewVision(cfg Config) (*Vision, error) {
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	return &Vision{session: s}, nil
}

func (v *Vision) ImageToText(ctx context.Context, image llm.Image, prompt string, params models.Params) ([]string, error) {
	if prompt == "" {
		prompt = DefaultVisionPrompt
	}
	req, err := generationRequest(v.MergeParams(params))
	if err != nil {
		return nil, fmt.Errorf("gemini vision %s: %w", v.ModelID(), err)
	}
	req.Contents = []models.GeminiContent{{
		Role: "user",
		Parts: []models.GeminiPart{
			{Text: prompt},
			{InlineData: &models.GeminiBlob{MIMEType: image.MIMEType(), Data: image.Base64()}},
		},
	}}
	return v.generate(ctx, req)
}

func contentRole(role string) (string, error) {
	switch role {
	case models.RoleUser:
		return "user", nil
	case models.RoleAssistant:
		return "model", nil
	}
	return "", fmt.Errorf("unsupported history role %q", role)
}

func generationRequest(params models.Params) (models.GeminiRequest, error) {
	var req models.GeminiRequest
	if err := connector.Unsupported(params, generationParams...); err != nil {
		return req, err
	}

	gc := &models.GeminiGenerationConfig{}
	set := false
	if v, ok, err := connector.Float(params, "temperature"); err != nil {
		return req, err
	} else if ok {
		gc.Temperature, set = &v, true
	}
	if v, ok, err := connector.Float(params, "top_p"); err != nil {
		return req, err
	} else if ok {
		gc.TopP, set = &v, true
	}
	if v, ok, err := connector.Int(params, "top_k"); err != nil {
		return req, err
	} else if ok {
		k := int(v)
		gc.TopK, set = &k, true
	}
	if v, ok, err := connector.Int(params, "max_output_tokens"); err != nil {
		return req, err
	} else if ok {
		gc.MaxOutputTokens, set = int(v), true
	}
	if v, ok, err := connector.Int(params, "candidate_count"); err != nil {
		return req, err
	} else if ok {
		gc.CandidateCount, set = int(v), true
	}
	stop, ok, err := connector.Strings(params, "stop_sequences")
	if err != nil {
		return req, err
	} else if ok {
		gc.StopSequences, set = stop, true
	}
	if set {
		req.GenerationConfig = gc
	}

	safety, ok, err := connector.Bool(params, "safety")
	if err != nil {
		return req, err
	}
	if ok && !safety {
		for _, cat := range harmCategories {
			req.SafetySettings = append(req.SafetySettings, models.GeminiSafetySetting{Category: cat, Threshold: "BLOCK_NONE"})
		}
	}
	return req, nil
}
