// Package provider holds the completion backends and the ordered fallback
// chain that the job handlers call.
package provider

import (
	"context"
	"fmt"
	"net/http"
)

// NoContent is returned when a backend answers with a well-formed response
// that carries no text.
const NoContent = "No content generated"

// Provider produces a text completion for a prompt.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

type Kind string

const (
	// KindGemini is a cloud Gemini API backend authenticated by API key.
	KindGemini Kind = "gemini"
	// KindOpenAI is a cloud OpenAI-style chat backend with bearer auth.
	KindOpenAI Kind = "openai"
	// KindLocal is an unauthenticated OpenAI-compatible server such as LM Studio.
	KindLocal Kind = "local"
)

// Spec describes one configured backend.
type Spec struct {
	Name     string
	Kind     Kind
	Endpoint string
	APIKey   string
	Model    string
}

// Cloud reports whether the backend expects credentials.
func (s Spec) Cloud() bool {
	return s.Kind != KindLocal
}

// New builds the provider described by spec. httpClient may be nil.
func New(ctx context.Context, spec Spec, httpClient *http.Client) (Provider, error) {
	switch spec.Kind {
	case KindGemini:
		return NewGeminiProvider(ctx, spec, httpClient)
	case KindOpenAI, KindLocal:
		return NewChatProvider(spec, httpClient)
	}
	return nil, fmt.Errorf("provider %q: unknown kind %q", spec.Name, spec.Kind)
}
