package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/pipeline"
	"github.com/pedscribe/pedscribe/internal/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vgarvardt/gue/v5"
)

type processCall struct {
	id  string
	opt pipeline.Options
}

var (
	srvData *ServiceData
	calls   []processCall
	procErr error
)

func initTest(t *testing.T) {
	t.Helper()
	calls, procErr = nil, nil
	srvData = &ServiceData{GueClient: &gue.Client{}, WorkerCount: 2, Pipeline: &pipeline.Data{},
		process: func(ctx context.Context, d *pipeline.Data, id string, opt *pipeline.Options) error {
			calls = append(calls, processCall{id: id, opt: *opt})
			return procErr
		}}
}

func Test_handleProcess(t *testing.T) {
	initTest(t)
	err := handleProcess(test.Ctx(t), &messages.ProcessMessage{QueueMessage: amessages.QueueMessage{ID: "1"},
		Resume: true, UseOriginal: true}, srvData)
	assert.Nil(t, err)
	require.Equal(t, 1, len(calls))
	assert.Equal(t, processCall{id: "1", opt: pipeline.Options{Resume: true, UseOriginal: true}}, calls[0])
}

func Test_handleProcess_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "busy", err: pipeline.ErrBusy, wantErr: false},
		{name: "not found", err: fmt.Errorf("can't load: %w", persistence.ErrNotFound), wantErr: false},
		{name: "fail", err: errors.New("olia"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initTest(t)
			procErr = tt.err
			err := handleProcess(test.Ctx(t), messages.NewProcessMessage("1", false, false), srvData)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func Test_validate(t *testing.T) {
	initTest(t)
	assert.NotNil(t, validate(&ServiceData{WorkerCount: 1, Pipeline: &pipeline.Data{}}))
	assert.NotNil(t, validate(&ServiceData{GueClient: &gue.Client{}, Pipeline: &pipeline.Data{}}))
	assert.NotNil(t, validate(&ServiceData{GueClient: &gue.Client{}, WorkerCount: 1}))
	assert.NotNil(t, validate(srvData), "pipeline dependencies are checked")
}

func Test_timeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, timeout(&ServiceData{}))
	assert.Equal(t, time.Minute, timeout(&ServiceData{Timeout: time.Minute}))
}
