package statusservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/utils"
	"github.com/pedscribe/pedscribe/internal/pkg/utils/handler"
	"github.com/vgarvardt/gue/v5"
)

// HandlerData keeps data required for handler
type HandlerData struct {
	GueClient   *gue.Client
	WorkerCount int
	DB          DB
	WSHandler   WSConnHandler
}

// StartStatusHandler starts the event queue listener for status events
// returns channel for tracking if all jobs are finished
func StartStatusHandler(ctx context.Context, data *HandlerData) (chan struct{}, error) {
	if err := validateHandler(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Msg("Starting listen for messages")

	wm := gue.WorkMap{
		messages.StatusChange: handler.Create(data, handleStatus, handler.DefaultOpts[messages.StatusMessage]().
			WithFailure(handler.NoRetry[messages.StatusMessage]).WithTimeout(time.Second*30)),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.StatusChange),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("ps-status"),
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

func handleStatus(ctx context.Context, m *messages.StatusMessage, data *HandlerData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("step", m.Step).Msg("handling status change event")

	if data.WSHandler.Count(m.ID) == 0 {
		goapp.Log.Debug().Str("ID", m.ID).Msg("no connections found")
		return nil
	}
	cons, err := data.DB.LoadConsultation(ctx, m.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("no status for ID %s", m.ID)
		}
		return fmt.Errorf("cannot get status for ID %s: %w", m.ID, err)
	}
	sent := data.WSHandler.Send(m.ID, mapStatus(cons))
	goapp.Log.Debug().Str("ID", m.ID).Int("sent", sent).Msg("sent to websockets")
	return nil
}

func validateHandler(data *HandlerData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	return nil
}
