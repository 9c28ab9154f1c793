package provider

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider calls the Gemini API generateContent endpoint. The SDK
// sends the key in the x-goog-api-key header.
type GeminiProvider struct {
	name   string
	model  string
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, spec Spec, httpClient *http.Client) (*GeminiProvider, error) {
	if spec.APIKey == "" {
		return nil, fmt.Errorf("provider %q: api key is required", spec.Name)
	}
	if spec.Model == "" {
		spec.Model = DefaultGeminiModel
	}

	cfg := &genai.ClientConfig{
		APIKey:     spec.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if spec.Endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: spec.Endpoint}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", spec.Name, err)
	}

	return &GeminiProvider{
		name:   spec.Name,
		model:  spec.Model,
		client: client,
	}, nil
}

func (p *GeminiProvider) Name() string { return p.name }

func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return firstCandidateText(resp), nil
}

func firstCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return NoContent
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 {
		return NoContent
	}
	part := c.Content.Parts[0]
	if part == nil || part.Text == "" {
		return NoContent
	}
	return part.Text
}
