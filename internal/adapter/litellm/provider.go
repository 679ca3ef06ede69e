package litellm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Strob0t/prdforge/internal/domain/conversation"
	"github.com/Strob0t/prdforge/internal/domain/provider"
)

// Provider executes conversations against one configured candidate.
type Provider struct {
	candidate provider.Candidate
	client    *Client
	maxTokens int
	// configErr is set when the candidate cannot be called at all,
	// e.g. its API key variable is empty.
	configErr error
}

// NewProvider binds a candidate to a client. A non-nil configErr makes every
// call fail as not_configured so the router moves on.
func NewProvider(c provider.Candidate, client *Client, maxTokens int, configErr error) *Provider {
	return &Provider{candidate: c, client: client, maxTokens: maxTokens, configErr: configErr}
}

// Candidate describes this target for routing.
func (p *Provider) Candidate() provider.Candidate { return p.candidate }

// Generate sends conv and returns the first choice's content.
func (p *Provider) Generate(ctx context.Context, conv []conversation.Message, jsonRequested bool) (string, error) {
	name := p.candidate.Name
	if p.configErr != nil {
		return "", provider.NewError(name, provider.ErrKindNotConfigured, p.configErr)
	}
	if jsonRequested && !p.candidate.SupportsJSON {
		return "", provider.NewError(name, provider.ErrKindUnavailable, errors.New("structured output not supported"))
	}

	req := ChatRequest{
		Model:     p.candidate.Model,
		Messages:  make([]ChatMessage, len(conv)),
		MaxTokens: p.maxTokens,
	}
	for i, m := range conv {
		req.Messages[i] = ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	if jsonRequested {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	resp, err := p.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", classify(name, err)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", provider.NewError(name, provider.ErrKindInvalidResponse, errors.New("empty completion"))
	}
	if jsonRequested {
		text = stripFences(text)
		if !json.Valid([]byte(text)) {
			return "", provider.NewError(name, provider.ErrKindInvalidResponse, errors.New("completion is not valid JSON"))
		}
	}
	return text, nil
}

// classify maps transport and status failures to provider error kinds.
func classify(name string, err error) *provider.Error {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized,
			se.StatusCode == http.StatusForbidden,
			se.StatusCode == http.StatusNotFound:
			return provider.NewError(name, provider.ErrKindNotConfigured, err)
		case se.StatusCode == http.StatusTooManyRequests:
			return provider.NewError(name, provider.ErrKindRateLimit, err)
		case se.StatusCode == http.StatusServiceUnavailable:
			return provider.NewError(name, provider.ErrKindUnavailable, err)
		case se.StatusCode >= 500:
			return provider.NewError(name, provider.ErrKindNetwork, err)
		default:
			return provider.NewError(name, provider.ErrKindInvalidResponse, err)
		}
	}
	if errors.Is(err, ErrMalformedResponse) {
		return provider.NewError(name, provider.ErrKindInvalidResponse, err)
	}
	return provider.Classify(name, err)
}

// stripFences removes a surrounding ``` or ```json block.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
