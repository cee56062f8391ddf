package inform

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airenas/async-api/pkg/inform"
	"github.com/airenas/async-api/pkg/messages"
	"github.com/jordan-wright/email"
	"github.com/pedscribe/pedscribe/internal/pkg/test"
	"github.com/pedscribe/pedscribe/internal/pkg/test/mocks"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vgarvardt/gue/v5"
)

var (
	dbMock     *mocks.DB
	senderMock *mockEmailSender
	makerMock  *mockEmailMaker
	srvData    *ServiceData
)

func initTest(t *testing.T) {
	t.Helper()
	dbMock = &mocks.DB{}
	senderMock = &mockEmailSender{}
	makerMock = &mockEmailMaker{}
	srvData = &ServiceData{DB: dbMock, GueClient: &gue.Client{}, WorkerCount: 10, EmailSender: senderMock,
		EmailMaker: makerMock, Location: nil}
	dbMock.On("LoadDoctorEmail", mock.Anything, "1").Return("dr@clinic.br", nil)
	dbMock.On("LockEmailTable", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	dbMock.On("UnLockEmailTable", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	senderMock.On("Send", mock.Anything).Return(nil)
	makerMock.On("Make", mock.Anything).Return(&email.Email{From: "o@o.br", Text: []byte("text")}, nil)
}

func informMsg(tp string) *messages.InformMessage {
	return &messages.InformMessage{QueueMessage: messages.QueueMessage{ID: "1"}, Type: tp,
		At: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func Test_handleInform(t *testing.T) {
	initTest(t)
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeFinished), srvData)
	assert.Nil(t, err)
	require.Equal(t, 3, len(dbMock.Calls))
	assert.Equal(t, messages.InformTypeFinished, dbMock.Calls[1].Arguments[2])
	assert.Equal(t, messages.InformTypeFinished, dbMock.Calls[2].Arguments[2])
	assert.Equal(t, unlockSent, dbMock.Calls[2].Arguments[3])
	md := makerMock.Calls[0].Arguments[0].(*inform.Data)
	assert.Equal(t, "dr@clinic.br", md.Email)
	assert.Equal(t, "1", md.ID)
	assert.Equal(t, messages.InformTypeFinished, md.MsgType)
}

func Test_handleInform_Failed(t *testing.T) {
	initTest(t)
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeFailed), srvData)
	assert.Nil(t, err)
	senderMock.AssertNumberOfCalls(t, "Send", 1)
}

func Test_handleInform_Location(t *testing.T) {
	initTest(t)
	loc := time.FixedZone("BRT", -3*60*60)
	srvData.Location = loc
	require.Nil(t, handleInform(test.Ctx(t), informMsg(messages.InformTypeFinished), srvData))
	md := makerMock.Calls[0].Arguments[0].(*inform.Data)
	assert.Equal(t, loc, md.MsgTime.Location())
	assert.Equal(t, 7, md.MsgTime.Hour())
}

func Test_handleInform_SkipType(t *testing.T) {
	initTest(t)
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeStarted), srvData)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(dbMock.Calls))
	senderMock.AssertNotCalled(t, "Send", mock.Anything)
}

func Test_handleInform_NoEmail(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadDoctorEmail", mock.Anything, "1").Return("", nil)
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeFinished), srvData)
	assert.Nil(t, err)
	makerMock.AssertNotCalled(t, "Make", mock.Anything)
	senderMock.AssertNotCalled(t, "Send", mock.Anything)
}

func Test_handleInform_FailDB(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadDoctorEmail", mock.Anything, "1").Return("", fmt.Errorf("err"))
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeFinished), srvData)
	assert.NotNil(t, err)
}

func Test_handleInform_FailLock(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadDoctorEmail", mock.Anything, "1").Return("dr@clinic.br", nil)
	dbMock.On("LockEmailTable", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("locked"))
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeFinished), srvData)
	assert.NotNil(t, err)
	senderMock.AssertNotCalled(t, "Send", mock.Anything)
	dbMock.AssertNotCalled(t, "UnLockEmailTable", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_handleInform_FailMaker(t *testing.T) {
	initTest(t)
	makerMock.ExpectedCalls = nil
	makerMock.On("Make", mock.Anything).Return(nil, fmt.Errorf("err"))
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeFinished), srvData)
	assert.NotNil(t, err)
}

func Test_handleInform_FailSender(t *testing.T) {
	initTest(t)
	senderMock.ExpectedCalls = nil
	senderMock.On("Send", mock.Anything).Return(fmt.Errorf("err"))
	err := handleInform(test.Ctx(t), informMsg(messages.InformTypeFinished), srvData)
	assert.NotNil(t, err)
	require.Equal(t, 3, len(dbMock.Calls))
	assert.Equal(t, unlockRetry, dbMock.Calls[2].Arguments[3])
}

func Test_validate(t *testing.T) {
	initTest(t)
	tests := []struct {
		name    string
		data    *ServiceData
		wantErr bool
	}{
		{name: "OK", data: &ServiceData{DB: dbMock, GueClient: &gue.Client{}, WorkerCount: 10, EmailSender: senderMock,
			EmailMaker: makerMock}, wantErr: false},
		{name: "Fail no DB", data: &ServiceData{GueClient: &gue.Client{}, WorkerCount: 10, EmailSender: senderMock,
			EmailMaker: makerMock}, wantErr: true},
		{name: "Fail no gue", data: &ServiceData{DB: dbMock, WorkerCount: 10, EmailSender: senderMock,
			EmailMaker: makerMock}, wantErr: true},
		{name: "Fail no workers", data: &ServiceData{DB: dbMock, GueClient: &gue.Client{}, EmailSender: senderMock,
			EmailMaker: makerMock}, wantErr: true},
		{name: "Fail no sender", data: &ServiceData{DB: dbMock, GueClient: &gue.Client{}, WorkerCount: 10,
			EmailMaker: makerMock}, wantErr: true},
		{name: "Fail no maker", data: &ServiceData{DB: dbMock, GueClient: &gue.Client{}, WorkerCount: 10, EmailSender: senderMock}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validate(tt.data); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFakeEmailSender(t *testing.T) {
	var got fakeEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Nil(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()
	v := viper.New()
	v.Set("smtp.fakeUrl", srv.URL)
	s, err := NewFakeEmailSender(v)
	require.Nil(t, err)
	err = s.Send(&email.Email{From: "a@b.br", To: []string{"dr@clinic.br"}, Subject: "Consulta", Text: []byte("pronta")})
	require.Nil(t, err)
	assert.Equal(t, fakeEmail{From: "a@b.br", To: []string{"dr@clinic.br"}, Subject: "Consulta", Text: "pronta"}, got)
}

func TestFakeEmailSender_Fail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	v := viper.New()
	v.Set("smtp.fakeUrl", srv.URL)
	s, err := NewFakeEmailSender(v)
	require.Nil(t, err)
	assert.NotNil(t, s.Send(&email.Email{To: []string{"dr@clinic.br"}}))
}

func TestNewFakeEmailSender_NoURL(t *testing.T) {
	_, err := NewFakeEmailSender(viper.New())
	assert.NotNil(t, err)
}

type mockEmailSender struct{ mock.Mock }

func (m *mockEmailSender) Send(email *email.Email) error {
	args := m.Called(email)
	return args.Error(0)
}

type mockEmailMaker struct{ mock.Mock }

func (m *mockEmailMaker) Make(data *inform.Data) (*email.Email, error) {
	args := m.Called(data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*email.Email), args.Error(1)
}
