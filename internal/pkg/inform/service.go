package inform

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/async-api/pkg/inform"
	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jordan-wright/email"
	"github.com/pedscribe/pedscribe/internal/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/utils"
	"github.com/pedscribe/pedscribe/internal/pkg/utils/handler"
	"github.com/vgarvardt/gue/v5"
)

// Sender send emails
type Sender interface {
	Send(email *email.Email) error
}

// EmailMaker prepares the email
type EmailMaker interface {
	Make(data *inform.Data) (*email.Email, error)
}

// DB tracks email sending process
// It is used to quarantee not to send the emails twice
type DB interface {
	LockEmailTable(context.Context, string, string) error
	UnLockEmailTable(context.Context, string, string, *int) error
	LoadDoctorEmail(ctx context.Context, consultationID string) (string, error)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	EmailSender Sender
	EmailMaker  EmailMaker
	DB          DB
	Location    *time.Location
	Testing     bool
}

const (
	unlockRetry = 0
	unlockSent  = 2
)

// StartWorkerService starts the event queue listener service to listen for inform events
// returns channel for tracking when all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Msg("Starting listen for messages")

	wm := gue.WorkMap{
		messages.Inform: handler.Create(data, handleInform, handler.DefaultOpts[amessages.InformMessage]().
			WithTimeout(time.Minute).WithBackoff(handler.DefaultBackoffOrTest(data.Testing))),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Inform),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("ps-inform"),
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

func handleInform(ctx context.Context, m *amessages.InformMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("type", m.Type).Msg("handling")
	if m.Type != amessages.InformTypeFinished && m.Type != amessages.InformTypeFailed {
		goapp.Log.Info().Str("type", m.Type).Msg("not informed type, skip")
		return nil
	}

	mail, err := data.DB.LoadDoctorEmail(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't retrieve email: %w", err)
	}
	if mail == "" {
		goapp.Log.Info().Str("ID", m.ID).Msg("no email, skip")
		return nil
	}

	mailData := inform.Data{ID: m.ID, MsgTime: toLocalTime(data, m.At), MsgType: m.Type, Email: mail}
	msg, err := data.EmailMaker.Make(&mailData)
	if err != nil {
		return fmt.Errorf("can't prepare email: %w", err)
	}

	if err := data.DB.LockEmailTable(ctx, mailData.ID, mailData.MsgType); err != nil {
		return fmt.Errorf("can't lock mail table: %w", err)
	}
	unlockValue := unlockRetry
	defer func() {
		if err := data.DB.UnLockEmailTable(context.WithoutCancel(ctx), mailData.ID, mailData.MsgType, &unlockValue); err != nil {
			goapp.Log.Error().Err(err).Str("ID", mailData.ID).Msg("can't unlock mail table")
		}
	}()

	if err := data.EmailSender.Send(msg); err != nil {
		return fmt.Errorf("can't send email: %w", err)
	}
	unlockValue = unlockSent
	goapp.Log.Info().Str("ID", m.ID).Str("type", m.Type).Msg("email sent")
	return nil
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.EmailMaker == nil {
		return fmt.Errorf("no EmailMaker")
	}
	if data.EmailSender == nil {
		return fmt.Errorf("no EmailSender")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	return nil
}

func toLocalTime(data *ServiceData, t time.Time) time.Time {
	if data.Location != nil {
		return t.In(data.Location)
	}
	return t
}
