package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Popie52/jobscheduler/internal/bootstrap"
	"github.com/Popie52/jobscheduler/internal/config"
	"github.com/Popie52/jobscheduler/internal/logger"
	"github.com/Popie52/jobscheduler/internal/model"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "scheduler",
		Short: "AI job scheduler",
		Long: `Polls the shared job queue, claims eligible jobs and runs them against
the configured completion providers, falling back from cloud to local.

Configuration is read from the environment (and a .env file if present).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runScheduler,
	}

	root.AddCommand(newRunCommand(), newMigrateCommand(), newEnqueueCommand())
	return root
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE:  runScheduler,
	}
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(true)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := bootstrap.Run(cmd.Context(), cfg, log); err != nil {
		log.Error("scheduler failed", zap.Error(err))
		return err
	}
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres jobs and datasets tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(false)
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.StoreDriver != config.DriverPostgres {
				return fmt.Errorf("migrate needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
			}

			st, err := bootstrap.OpenPostgres(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("migrations completed successfully")
			return nil
		},
	}
}

type enqueueOptions struct {
	id       string
	jobType  string
	payload  string
	priority int
}

func newEnqueueCommand() *cobra.Command {
	opts := &enqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Insert one queued job",
		Example: `  scheduler enqueue --type story_generation \
    --payload '{"prompt":"a lighthouse","characterLimit":500,"style":"whimsical"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := opts.job()
			if err != nil {
				return err
			}

			cfg, log, err := setup(false)
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := bootstrap.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Enqueue(cmd.Context(), job); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "job id (default: random UUID)")
	cmd.Flags().StringVar(&opts.jobType, "type", "", "job type: story_generation, content_analysis or dataset_processing")
	cmd.Flags().StringVar(&opts.payload, "payload", "{}", "job payload as JSON")
	cmd.Flags().IntVar(&opts.priority, "priority", 0, "priority, lower runs first")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// job validates the flags the same way a worker would decode them.
func (o *enqueueOptions) job() (*model.Job, error) {
	if !json.Valid([]byte(o.payload)) {
		return nil, errors.New("payload is not valid JSON")
	}
	t := model.JobType(o.jobType)
	if _, err := model.DecodePayload(t, json.RawMessage(o.payload)); err != nil {
		return nil, err
	}

	id := o.id
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &model.Job{
		ID:        id,
		Type:      t,
		Payload:   json.RawMessage(o.payload),
		Status:    model.StatusQueued,
		Priority:  o.priority,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// setup loads config and builds the logger. Only the scheduler itself needs
// a provider, so validation is optional.
func setup(validate bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
