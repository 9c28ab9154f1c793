package core

import (
	"context"
	"fmt"
	"time"

	"github.com/Popie52/jobscheduler/internal/model"
	"github.com/Popie52/jobscheduler/internal/store"
)

// Completer turns a prompt into text. *provider.Chain satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Processor maps a job to its handler and returns the typed result. It
// never writes job status.
type Processor struct {
	datasets store.DatasetStore
	llm      Completer
	now      func() time.Time
}

func NewProcessor(datasets store.DatasetStore, llm Completer) *Processor {
	return &Processor{
		datasets: datasets,
		llm:      llm,
		now:      time.Now,
	}
}

func (p *Processor) Process(ctx context.Context, job *model.Job) (any, error) {
	payload, err := model.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}

	switch pl := payload.(type) {
	case model.StoryPayload:
		return p.generateStory(ctx, pl)
	case model.ContentPayload:
		return p.analyzeContent(ctx, pl)
	case model.DatasetPayload:
		return p.processDataset(ctx, pl)
	}
	return nil, fmt.Errorf("%w: %s", model.ErrUnknownJobType, job.Type)
}
