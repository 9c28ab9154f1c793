package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Popie52/jobscheduler/internal/model"
	"github.com/Popie52/jobscheduler/internal/store"
)

const storyPrompt = `Create an engaging %s story based on the following prompt.
Keep it under %d characters and ensure it's appropriate for all audiences.
Focus on positive themes and ethical storytelling.

Prompt: %s

Story:`

const analysisPrompt = `Analyze the following content for %s.
Provide a structured analysis with key insights.

Content: %s

Analysis:`

const datasetPrompt = `Process the following dataset for %s.
Provide structured output that can be stored in a database.

Dataset: %s

Processing Result:`

func (p *Processor) generateStory(ctx context.Context, pl model.StoryPayload) (*model.StoryResult, error) {
	text, err := p.llm.Complete(ctx, fmt.Sprintf(storyPrompt, pl.Style, pl.CharacterLimit, pl.Prompt))
	if err != nil {
		return nil, err
	}

	return &model.StoryResult{
		Content: text,
		Metadata: model.StoryMetadata{
			CharacterCount: utf8.RuneCountInString(text),
			Style:          pl.Style,
			GeneratedAt:    p.now().UTC(),
		},
	}, nil
}

func (p *Processor) analyzeContent(ctx context.Context, pl model.ContentPayload) (*model.ContentResult, error) {
	text, err := p.llm.Complete(ctx, fmt.Sprintf(analysisPrompt, pl.AnalysisType, pl.Content))
	if err != nil {
		return nil, err
	}

	return &model.ContentResult{
		Analysis:      text,
		AnalysisType:  pl.AnalysisType,
		ContentLength: utf8.RuneCountInString(pl.Content),
		AnalyzedAt:    p.now().UTC(),
	}, nil
}

func (p *Processor) processDataset(ctx context.Context, pl model.DatasetPayload) (*model.DatasetResult, error) {
	ds, err := p.datasets.GetDataset(ctx, pl.DatasetID)
	if errors.Is(err, store.ErrDatasetNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrDatasetNotFound, pl.DatasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", pl.DatasetID, err)
	}

	text, err := p.llm.Complete(ctx, fmt.Sprintf(datasetPrompt, pl.Operation, compactJSON(ds.Content)))
	if err != nil {
		return nil, err
	}

	return &model.DatasetResult{
		DatasetID:   pl.DatasetID,
		Operation:   pl.Operation,
		Result:      text,
		ProcessedAt: p.now().UTC(),
	}, nil
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
