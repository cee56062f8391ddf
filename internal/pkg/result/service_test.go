package result

import (
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/minio/minio-go/v7"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/test"
	"github.com/pedscribe/pedscribe/internal/pkg/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var (
	filerMock *mocks.Filer
	dbMock    *mocks.DB
	tData     *Data
	tEcho     *echo.Echo
)

func initTest(t *testing.T) {
	t.Helper()
	filerMock = &mocks.Filer{}
	dbMock = &mocks.DB{}
	tData = &Data{Reader: filerMock, DB: dbMock}
	tEcho = initRoutes(tData)
	filerMock.On("LoadFile", mock.Anything, "1/consulta.webm").Return(newTestFile("audio"), nil)
	filerMock.On("LoadFile", mock.Anything, "1/original.wav").Return(newTestFile("original"), nil)
	dbMock.On("LoadConsultation", mock.Anything, "1").Return(&persistence.Consultation{ID: "1", DoctorID: "d1",
		AudioURL: "1/consulta.webm", OriginalAudioURL: sql.NullString{String: "1/original.wav", Valid: true}}, nil)
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func TestWrongMethod(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPost, "/audio/1", nil)
	test.Code(t, tEcho, req, http.StatusMethodNotAllowed)
}

func Test_Audio(t *testing.T) {
	initTest(t)
	req := test.DoctorRequest(http.MethodGet, "/audio/1", "d1")
	resp := test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, "audio", test.RStr(t, resp.Body))
	assert.Equal(t, "attachment; filename=consulta.webm", resp.Header().Get("Content-Disposition"))
}

func Test_Audio_Range(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/audio/1", nil)
	req.Header.Set("Range", "bytes=1-2")
	resp := test.Code(t, tEcho, req, http.StatusPartialContent)
	assert.Equal(t, "ud", test.RStr(t, resp.Body))
}

func Test_Original(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/audio/1/original", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, "original", test.RStr(t, resp.Body))
	assert.Equal(t, "attachment; filename=original.wav", resp.Header().Get("Content-Disposition"))
}

func Test_Original_Missing(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadConsultation", mock.Anything, "1").Return(&persistence.Consultation{ID: "1", DoctorID: "d1",
		AudioURL: "1/consulta.webm"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/audio/1/original", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
	filerMock.AssertNotCalled(t, "LoadFile", mock.Anything, mock.Anything)
}

func Test_AudioHead(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodHead, "/audio/1", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, "", test.RStr(t, resp.Body))
	assert.Equal(t, "attachment; filename=consulta.webm", resp.Header().Get("Content-Disposition"))
	assert.Equal(t, "5", resp.Header().Get(echo.HeaderContentLength))
}

func Test_OriginalHead(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodHead, "/audio/1/original", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, "", test.RStr(t, resp.Body))
}

func Test_Audio_Fail(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func()
		doctor   string
		wantCode int
	}{
		{name: "no consultation", prepare: func() {
			dbMock.ExpectedCalls = nil
			dbMock.On("LoadConsultation", mock.Anything, "1").Return(nil, persistence.ErrNotFound)
		}, wantCode: http.StatusNotFound},
		{name: "db", prepare: func() {
			dbMock.ExpectedCalls = nil
			dbMock.On("LoadConsultation", mock.Anything, "1").Return(nil, fmt.Errorf("olia"))
		}, wantCode: http.StatusInternalServerError},
		{name: "foreign", prepare: func() {}, doctor: "d2", wantCode: http.StatusNotFound},
		{name: "no file", prepare: func() {
			filerMock.ExpectedCalls = nil
			filerMock.On("LoadFile", mock.Anything, "1/consulta.webm").Return(nil, minio.ErrorResponse{StatusCode: http.StatusNotFound})
		}, wantCode: http.StatusNotFound},
		{name: "filer", prepare: func() {
			filerMock.ExpectedCalls = nil
			filerMock.On("LoadFile", mock.Anything, "1/consulta.webm").Return(nil, fmt.Errorf("olia"))
		}, wantCode: http.StatusInternalServerError},
		{name: "stat", prepare: func() {
			filerMock.ExpectedCalls = nil
			f := newTestFile("audio")
			f.statErr = minio.ErrorResponse{StatusCode: http.StatusNotFound}
			filerMock.On("LoadFile", mock.Anything, "1/consulta.webm").Return(f, nil)
		}, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initTest(t)
			tt.prepare()
			req := test.DoctorRequest(http.MethodGet, "/audio/1", tt.doctor)
			test.Code(t, tEcho, req, tt.wantCode)
		})
	}
}

func Test_Live(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, http.StatusOK)
}

func Test_validate(t *testing.T) {
	assert.Nil(t, validate(&Data{Reader: &mocks.Filer{}, DB: &mocks.DB{}}))
	assert.NotNil(t, validate(&Data{DB: &mocks.DB{}}))
	assert.NotNil(t, validate(&Data{Reader: &mocks.Filer{}}))
}

type testFile struct {
	*strings.Reader
	size    int64
	statErr error
}

func newTestFile(s string) *testFile {
	return &testFile{Reader: strings.NewReader(s), size: int64(len(s))}
}

func (f *testFile) Close() error {
	return nil
}

// Stat returns file stat
func (f *testFile) Stat() (fs.FileInfo, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	return &testStat{size: f.size}, nil
}

type testStat struct {
	size int64
}

func (s *testStat) IsDir() bool        { return false }
func (s *testStat) ModTime() time.Time { return time.Now() }
func (s *testStat) Mode() fs.FileMode  { return fs.ModeTemporary }
func (s *testStat) Name() string       { return "stat" }
func (s *testStat) Size() int64        { return s.size }
func (s *testStat) Sys() any           { return nil }
