package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownJobType = errors.New("unknown job type")
	ErrInvalidPayload = errors.New("invalid payload")
)

const (
	DefaultCharacterLimit = 2000
	DefaultStyle          = "narrative"
	DefaultAnalysisType   = "sentiment"
	DefaultOperation      = "classify"
)

// Payload is the typed input of one job type.
type Payload interface {
	JobType() JobType
}

type StoryPayload struct {
	Prompt         string `json:"prompt"`
	CharacterLimit int    `json:"characterLimit,omitempty"`
	Style          string `json:"style,omitempty"`
}

func (StoryPayload) JobType() JobType { return TypeStoryGeneration }

type ContentPayload struct {
	Content      string `json:"content"`
	AnalysisType string `json:"analysisType,omitempty"`
}

func (ContentPayload) JobType() JobType { return TypeContentAnalysis }

type DatasetPayload struct {
	DatasetID string `json:"datasetId"`
	Operation string `json:"operation,omitempty"`
}

func (DatasetPayload) JobType() JobType { return TypeDatasetProcessing }

// DecodePayload decodes raw into the payload type selected by t and
// applies defaults.
func DecodePayload(t JobType, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypeStoryGeneration:
		var p StoryPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.Prompt == "" {
			return nil, fmt.Errorf("%w: prompt is required", ErrInvalidPayload)
		}
		if p.CharacterLimit <= 0 {
			p.CharacterLimit = DefaultCharacterLimit
		}
		if p.Style == "" {
			p.Style = DefaultStyle
		}
		return p, nil

	case TypeContentAnalysis:
		var p ContentPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.Content == "" {
			return nil, fmt.Errorf("%w: content is required", ErrInvalidPayload)
		}
		if p.AnalysisType == "" {
			p.AnalysisType = DefaultAnalysisType
		}
		return p, nil

	case TypeDatasetProcessing:
		var p DatasetPayload
		if err := unmarshalPayload(raw, &p); err != nil {
			return nil, err
		}
		if p.DatasetID == "" {
			return nil, fmt.Errorf("%w: datasetId is required", ErrInvalidPayload)
		}
		if p.Operation == "" {
			p.Operation = DefaultOperation
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, t)
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

type StoryResult struct {
	Content  string        `json:"content"`
	Metadata StoryMetadata `json:"metadata"`
}

type StoryMetadata struct {
	CharacterCount int       `json:"characterCount"`
	Style          string    `json:"style"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

type ContentResult struct {
	Analysis      string    `json:"analysis"`
	AnalysisType  string    `json:"analysisType"`
	ContentLength int       `json:"contentLength"`
	AnalyzedAt    time.Time `json:"analyzedAt"`
}

type DatasetResult struct {
	DatasetID   string    `json:"datasetId"`
	Operation   string    `json:"operation"`
	Result      string    `json:"result"`
	ProcessedAt time.Time `json:"processedAt"`
}
