package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	chatMaxTokens   = 2000
	chatTemperature = 0.7
	localChatPath   = "/v1/chat/completions"
)

// ChatProvider speaks the OpenAI chat completion shape. Cloud backends get
// a bearer token and the endpoint as given; local backends get no auth and
// the standard path appended to the endpoint.
type ChatProvider struct {
	name   string
	url    string
	apiKey string
	model  string
	local  bool
	client *resty.Client
}

func NewChatProvider(spec Spec, httpClient *http.Client) (*ChatProvider, error) {
	if spec.Endpoint == "" {
		return nil, fmt.Errorf("provider %q: endpoint is required", spec.Name)
	}

	client := resty.New()
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	}

	p := &ChatProvider{
		name:   spec.Name,
		url:    spec.Endpoint,
		apiKey: spec.APIKey,
		model:  spec.Model,
		local:  !spec.Cloud(),
		client: client,
	}
	if p.local {
		p.url = strings.TrimRight(spec.Endpoint, "/") + localChatPath
	}
	return p, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      *bool         `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	}
	if p.local {
		stream := false
		body.Stream = &stream
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if !p.local && p.apiKey != "" {
		req.SetAuthToken(p.apiKey)
	}

	resp, err := req.Post(p.url)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), http.StatusText(resp.StatusCode()))
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil || out.Choices[0].Message.Content == "" {
		return NoContent, nil
	}
	return out.Choices[0].Message.Content, nil
}
