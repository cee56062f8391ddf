package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"
)

// Sender enqueues messages as gue jobs
type Sender struct {
	gc *gue.Client
}

// NewSender initializes gue sender
func NewSender(pool *pgxpool.Pool) (*Sender, error) {
	gc, err := gue.NewClient(pgxv5.NewConnPool(pool))
	if err != nil {
		return nil, fmt.Errorf("can't init gue: %w", err)
	}
	return &Sender{gc: gc}, nil
}

// SendMessage enqueues msg, job type and queue are the same
func (sender *Sender) SendMessage(ctx context.Context, msg messages.Message, queue string) error {
	j, err := toJob(msg, queue)
	if err != nil {
		return err
	}
	goapp.Log.Debug().Str("queue", queue).Msg("sending message")
	if err := sender.gc.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("can't send msg to %s: %w", queue, err)
	}
	return nil
}

func toJob(msg messages.Message, queue string) (*gue.Job, error) {
	if msg == nil {
		return nil, fmt.Errorf("no msg")
	}
	args, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("can't marshal msg: %w", err)
	}
	return &gue.Job{Type: queue, Queue: queue, Args: args}, nil
}
