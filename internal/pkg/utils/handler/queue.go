package handler

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/vgarvardt/gue/v5"
)

// FailureFunc decides if a failed job is rescheduled and after what delay, 0 means backoff
type FailureFunc[TM any] func(context.Context, *TM, error, *gue.Job) (bool, time.Duration, error)

// Opts configures a job handler
type Opts[TM any] struct {
	backoff        gue.Backoff
	timeout        time.Duration
	maxErrCount    int32
	failureHandler FailureFunc[TM]
}

// Create wraps hf into gue.WorkFunc: unmarshals the message, limits the time and applies the failure policy
func Create[TM any, SD any](data *SD, hf func(context.Context, *TM, *SD) error, opts *Opts[TM]) gue.WorkFunc {
	if opts == nil {
		goapp.Log.Panic().Msg("no opts provided")
	}
	return func(ctx context.Context, j *gue.Job) error {
		goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Msg("got msg")

		var m TM
		err := json.Unmarshal(j.Args, &m)
		if err != nil {
			goapp.Log.Error().Err(err).Str("queue", j.Queue).Msg("can't unmarshal, drop")
			return nil
		}
		wrkCtx, cf := context.WithTimeout(ctx, opts.timeout)
		defer cf()
		err = hf(wrkCtx, &m, data)
		if err == nil {
			return nil
		}
		goapp.Log.Warn().Err(err).Str("queue", j.Queue).Str("type", j.Type).Msg("fail")
		retry, delay, errHandler := opts.failureHandler(ctx, &m, err, j)
		if errHandler != nil {
			goapp.Log.Error().Err(errHandler).Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Send()
		}
		if !retry || j.ErrorCount >= opts.maxErrCount {
			goapp.Log.Warn().Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Msg("will not retry")
			return nil
		}
		if delay == 0 {
			delay = opts.backoff(int(j.ErrorCount + 1))
		}
		goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Dur("after", delay).Msg("retry after")
		return gue.ErrRescheduleJobIn(delay, err.Error())
	}
}

// DefaultOpts retries up to 3 times with DefaultBackoff, timeout 15min
func DefaultOpts[TM any]() *Opts[TM] {
	return &Opts[TM]{timeout: time.Minute * 15, failureHandler: defaultFailureHandler[TM], backoff: DefaultBackoff(),
		maxErrCount: 3}
}

// DefaultBackoff grows linearly with jitter
func DefaultBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		return fullJitter(time.Duration(retries) * time.Second * 10)
	}
}

// NoBackoff reschedules immediately
func NoBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		return 0
	}
}

// DefaultBackoffOrTest returns NoBackoff for test mode
func DefaultBackoffOrTest(test bool) gue.Backoff {
	if test {
		return NoBackoff()
	}
	return DefaultBackoff()
}

// NoRetry never reschedules, hf is expected to record the failure itself
func NoRetry[TM any](ctx context.Context, message *TM, err error, j *gue.Job) (bool, time.Duration, error) {
	return false, 0, nil
}

func (o *Opts[TM]) WithFailure(failureHandler FailureFunc[TM]) *Opts[TM] {
	if failureHandler != nil {
		o.failureHandler = failureHandler
	}
	return o
}

func (o *Opts[TM]) WithTimeout(timeout time.Duration) *Opts[TM] {
	if timeout > 0 {
		o.timeout = timeout
	}
	return o
}

func (o *Opts[TM]) WithBackoff(b gue.Backoff) *Opts[TM] {
	o.backoff = b
	return o
}

func (o *Opts[TM]) WithMaxErrCount(c int32) *Opts[TM] {
	o.maxErrCount = c
	return o
}

// fullJitter return randomized duration in interval [0, t)
// as suggested by https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
func fullJitter(t time.Duration) time.Duration {
	// `rand` here is used just for backoff jitter,
	return time.Duration(float64(t) * rand.Float64())
}

func defaultFailureHandler[TM any](ctx context.Context, message *TM, err error, j *gue.Job) (bool, time.Duration, error) {
	return true, 0, nil
}

