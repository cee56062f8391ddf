package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/pipeline"
	"github.com/pedscribe/pedscribe/internal/pkg/utils"
	"github.com/pedscribe/pedscribe/internal/pkg/utils/handler"
	"github.com/vgarvardt/gue/v5"
)

// DefaultTimeout of one consultation job
const DefaultTimeout = 2 * time.Hour

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	Pipeline    *pipeline.Data
	Timeout     time.Duration
	Testing     bool

	process func(context.Context, *pipeline.Data, string, *pipeline.Options) error
}

// StartWorkerService starts the event queue listener service to listen for events
// returns channel for tracking if all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Int("workers", data.WorkerCount).Dur("timeout", timeout(data)).Msg("Starting listen for messages")
	if data.Testing {
		goapp.Log.Warn().Msg("SERVICE IN TEST MODE")
	}

	wm := gue.WorkMap{
		messages.Process: handler.Create(data, handleProcess, handler.DefaultOpts[messages.ProcessMessage]().
			WithFailure(handler.NoRetry[messages.ProcessMessage]).WithTimeout(timeout(data)).
			WithBackoff(handler.DefaultBackoffOrTest(data.Testing))),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Process),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("ps-worker"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		if err := pool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("pool error")
		}
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	return res, nil
}

func handleProcess(ctx context.Context, m *messages.ProcessMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Bool("resume", m.Resume).Bool("original", m.UseOriginal).Msg("handling")
	pf := data.process
	if pf == nil {
		pf = pipeline.Process
	}
	err := pf(ctx, data.Pipeline, m.ID, &pipeline.Options{Resume: m.Resume, UseOriginal: m.UseOriginal})
	if errors.Is(err, pipeline.ErrBusy) {
		goapp.Log.Warn().Str("ID", m.ID).Msg("already in progress, skip")
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) {
		goapp.Log.Warn().Str("ID", m.ID).Msg("no consultation, skip")
		return nil
	}
	if err != nil {
		return fmt.Errorf("can't process %s: %w", m.ID, err)
	}
	return nil
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.Pipeline == nil {
		return fmt.Errorf("no pipeline")
	}
	return data.Pipeline.Validate()
}

func timeout(data *ServiceData) time.Duration {
	if data.Timeout > 0 {
		return data.Timeout
	}
	return DefaultTimeout
}
