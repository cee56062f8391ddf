package transcriber

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pedscribe/pedscribe/internal/pkg/test"
	tapi "github.com/pedscribe/pedscribe/internal/pkg/transcriber/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResp struct {
	code int
	resp string
}

type testReq struct {
	URL    string
	auth   string
	fields map[string]string
	file   string
}

func newTestReq(t *testing.T, req *http.Request) testReq {
	res := testReq{URL: req.URL.String(), auth: req.Header.Get("Authorization"), fields: map[string]string{}}
	_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil {
		return res
	}
	mr := multipart.NewReader(req.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		b, _ := io.ReadAll(p)
		if p.FormName() == "file" {
			res.file = string(b)
		} else {
			res.fields[p.FormName()] = string(b)
		}
	}
	return res
}

func initTestServer(t *testing.T, rData []testResp) (*Client, *[]testReq) {
	t.Helper()
	resRequest := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		resRequest = append(resRequest, newTestReq(t, req))
		if len(resRequest) <= len(rData) {
			resp := rData[len(resRequest)-1]
			rw.WriteHeader(resp.code)
			_, _ = rw.Write([]byte(resp.resp))
		} else {
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	cl, err := NewClient(Options{URL: server.URL + "/v1", Key: "k", Model: "whisper-1", Prompt: "pediatria"})
	require.Nil(t, err)
	cl.httpclient = server.Client()
	cl.uploadTimeout = time.Second * 5
	cl.backoff = func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}
	t.Cleanup(func() { server.Close() })
	return cl, &resRequest
}

func writeAudio(t *testing.T) string {
	t.Helper()
	res := filepath.Join(t.TempDir(), "a.mp3")
	require.Nil(t, os.WriteFile(res, []byte("audio data"), 0600))
	return res
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		opt     Options
		wantErr bool
	}{
		{name: "OK", opt: Options{URL: "http://a", Key: "k", Model: "m"}},
		{name: "no URL", opt: Options{Key: "k", Model: "m"}, wantErr: true},
		{name: "no http", opt: Options{URL: "a", Key: "k", Model: "m"}, wantErr: true},
		{name: "no key", opt: Options{URL: "http://a", Model: "m"}, wantErr: true},
		{name: "no model", opt: Options{URL: "http://a", Key: "k"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewClient(tt.opt)
			assert.Equal(t, tt.wantErr, err != nil)
			if !tt.wantErr {
				assert.Equal(t, "http://a/audio/transcriptions", got.url)
				assert.Equal(t, "json", got.format)
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	cl, reqs := initTestServer(t, []testResp{{code: 200, resp: `{"text":" Olá, doutor. "}`}})

	res, err := cl.Transcribe(test.Ctx(t), &tapi.Request{FilePath: writeAudio(t), Language: "pt", Prompt: "febre"})

	require.Nil(t, err)
	assert.Equal(t, "Olá, doutor.", res)
	require.Len(t, *reqs, 1)
	r := (*reqs)[0]
	assert.Equal(t, "/v1/audio/transcriptions", r.URL)
	assert.Equal(t, "Bearer k", r.auth)
	assert.Equal(t, "audio data", r.file)
	assert.Equal(t, "whisper-1", r.fields["model"])
	assert.Equal(t, "pt", r.fields["language"])
	assert.Equal(t, "json", r.fields["response_format"])
	assert.Equal(t, "pediatria febre", r.fields["prompt"])
}

func TestTranscribe_Diarized(t *testing.T) {
	cl, _ := initTestServer(t, []testResp{{code: 200,
		resp: `{"segments":[{"speaker":"Speaker 1","text":"Olá"},{"speaker":"Speaker 2","text":"Bom dia"}]}`}})

	res, err := cl.Transcribe(test.Ctx(t), &tapi.Request{FilePath: writeAudio(t)})

	require.Nil(t, err)
	assert.Equal(t, "[Speaker 1]: Olá\n\n[Speaker 2]: Bom dia", res)
}

func TestTranscribe_Fail(t *testing.T) {
	cl, _ := initTestServer(t, []testResp{{code: 500, resp: `{}`}})
	_, err := cl.Transcribe(test.Ctx(t), &tapi.Request{FilePath: writeAudio(t)})
	assert.NotNil(t, err)
}

func TestTranscribe_Retries(t *testing.T) {
	cl, reqs := initTestServer(t, []testResp{{code: 429}, {code: 200, resp: `{"text":"ok"}`}})
	cl.backoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	res, err := cl.Transcribe(test.Ctx(t), &tapi.Request{FilePath: writeAudio(t)})
	require.Nil(t, err)
	assert.Equal(t, "ok", res)
	assert.Len(t, *reqs, 2)
}

func TestTranscribe_BadJSON(t *testing.T) {
	cl, _ := initTestServer(t, []testResp{{code: 200, resp: `olia`}})
	_, err := cl.Transcribe(test.Ctx(t), &tapi.Request{FilePath: writeAudio(t)})
	assert.NotNil(t, err)
}

func TestTranscribe_NoFile(t *testing.T) {
	cl, reqs := initTestServer(t, nil)
	_, err := cl.Transcribe(test.Ctx(t), &tapi.Request{FilePath: filepath.Join(t.TempDir(), "none.mp3")})
	assert.NotNil(t, err)
	assert.Len(t, *reqs, 0)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   tapi.Response
		want string
	}{
		{name: "text", in: tapi.Response{Text: " a b "}, want: "a b"},
		{name: "empty", in: tapi.Response{}, want: ""},
		{name: "speakers", in: tapi.Response{Text: "ignored", Segments: []tapi.Segment{
			{Speaker: "Speaker 1", Text: "Olá"}, {Speaker: "Speaker 2", Text: "Bom dia"}}},
			want: "[Speaker 1]: Olá\n\n[Speaker 2]: Bom dia"},
		{name: "merges same speaker", in: tapi.Response{Segments: []tapi.Segment{
			{Speaker: "A", Text: "Ele tem febre."}, {Speaker: "A", Text: "Desde ontem."}, {Speaker: "B", Text: "Certo."}}},
			want: "[A]: Ele tem febre. Desde ontem.\n\n[B]: Certo."},
		{name: "keeps order", in: tapi.Response{Segments: []tapi.Segment{
			{Speaker: "B", Text: "1"}, {Speaker: "A", Text: "2"}, {Speaker: "B", Text: "3"}}},
			want: "[B]: 1\n\n[A]: 2\n\n[B]: 3"},
		{name: "skips empty segments", in: tapi.Response{Segments: []tapi.Segment{
			{Speaker: "A", Text: " "}, {Speaker: "B", Text: "x"}}},
			want: "[B]: x"},
		{name: "no speaker continues block", in: tapi.Response{Segments: []tapi.Segment{
			{Speaker: "A", Text: "Tem febre"}, {Text: "desde ontem."}, {Speaker: "B", Text: "Certo."}}},
			want: "[A]: Tem febre desde ontem.\n\n[B]: Certo."},
		{name: "no speaker first", in: tapi.Response{Segments: []tapi.Segment{
			{Text: "Bom dia."}, {Speaker: "A", Text: "Olá."}}},
			want: "[?]: Bom dia.\n\n[A]: Olá."},
		{name: "segments without speakers", in: tapi.Response{Segments: []tapi.Segment{{Text: "a"}, {Text: " b"}}},
			want: "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(&tt.in))
		})
	}
}

func TestJoinPrompt(t *testing.T) {
	assert.Equal(t, "", joinPrompt("", ""))
	assert.Equal(t, "a", joinPrompt("a", " "))
	assert.Equal(t, "b", joinPrompt("", "b"))
	assert.True(t, strings.HasPrefix(joinPrompt("a", "b"), "a "))
}
