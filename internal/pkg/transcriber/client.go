package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
	tapi "github.com/pedscribe/pedscribe/internal/pkg/transcriber/api"
)

// Options for the transcription client
type Options struct {
	URL     string
	Key     string
	Model   string
	Format  string
	Prompt  string
	Timeout time.Duration
}

// Client comunicates with an OpenAI compatible transcription service
type Client struct {
	httpclient    *http.Client
	url           string
	key           string
	model         string
	format        string
	prompt        string
	uploadTimeout time.Duration
	backoff       func() backoff.BackOff
}

// NewClient creates a transcriber client
func NewClient(opt Options) (*Client, error) {
	res := Client{}
	if opt.URL == "" {
		return nil, fmt.Errorf("no transcriber URL")
	}
	if !strings.HasPrefix(opt.URL, "http") {
		return nil, fmt.Errorf("no http in transcriber URL")
	}
	if opt.Key == "" {
		return nil, fmt.Errorf("no transcriber key")
	}
	if opt.Model == "" {
		return nil, fmt.Errorf("no transcriber model")
	}
	res.url = strings.TrimSuffix(opt.URL, "/") + "/audio/transcriptions"
	res.key = opt.Key
	res.model = opt.Model
	res.format = opt.Format
	if res.format == "" {
		res.format = "json"
	}
	res.prompt = opt.Prompt
	res.uploadTimeout = opt.Timeout
	if res.uploadTimeout <= 0 {
		res.uploadTimeout = time.Minute * 10
	}
	res.httpclient = asrHTTPClient()
	res.backoff = newSimpleBackoff
	goapp.Log.Info().Str("url", res.url).Str("model", res.model).Str("format", res.format).Msg("transcriber")
	return &res, nil
}

// Transcribe uploads audio and returns normalized text
func (sp *Client) Transcribe(ctx context.Context, audio *tapi.Request) (string, error) {
	body, contentType, err := sp.prepareBody(audio)
	if err != nil {
		return "", err
	}
	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		req, err := http.NewRequest(http.MethodPost, sp.url, bytes.NewReader(body))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+sp.key)

		ctx, cancelF := context.WithTimeout(ctx, sp.uploadTimeout)
		defer cancelF()
		req = req.WithContext(ctx)
		goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Int("size", len(body)).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return "", isRetryableCode(resp.StatusCode), err
		}
		br, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't read body: %w", err)
		}
		var respData tapi.Response
		if err := json.Unmarshal(br, &respData); err != nil {
			return "", false, fmt.Errorf("can't decode response: %w", err)
		}
		return Normalize(&respData), false, nil
	}, sp.backoff())
}

func (sp *Client) prepareBody(audio *tapi.Request) ([]byte, string, error) {
	f, err := os.Open(audio.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("can't open audio: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(audio.FilePath))
	if err != nil {
		return nil, "", fmt.Errorf("can't add file to request: %w", err)
	}
	if _, err = io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("can't add file content to request: %w", err)
	}
	params := [][2]string{{"model", sp.model}, {"response_format", sp.format},
		{"language", audio.Language}, {"prompt", joinPrompt(sp.prompt, audio.Prompt)}}
	for _, p := range params {
		if p[1] == "" {
			continue
		}
		if err := writer.WriteField(p[0], p[1]); err != nil {
			return nil, "", fmt.Errorf("can't add param: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("can't close multipart: %w", err)
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

func joinPrompt(base, ctx string) string {
	return strings.TrimSpace(strings.TrimSpace(base) + " " + strings.TrimSpace(ctx))
}

// UnknownSpeaker labels a diarized block opened by a segment without a speaker
const UnknownSpeaker = "?"

// Normalize converts a plain or diarized response into transcript text.
// Diarized segments become "[speaker]: text" blocks separated by an empty line,
// a segment without a speaker continues the previous block.
func Normalize(resp *tapi.Response) string {
	diarized := false
	for _, s := range resp.Segments {
		if strings.TrimSpace(s.Speaker) != "" {
			diarized = true
			break
		}
	}
	if !diarized {
		if t := strings.TrimSpace(resp.Text); t != "" || len(resp.Segments) == 0 {
			return t
		}
		parts := []string{}
		for _, s := range resp.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " ")
	}
	type block struct {
		speaker string
		texts   []string
	}
	blocks := []*block{}
	for _, s := range resp.Segments {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		sp := strings.TrimSpace(s.Speaker)
		if len(blocks) > 0 && (sp == "" || blocks[len(blocks)-1].speaker == sp) {
			blocks[len(blocks)-1].texts = append(blocks[len(blocks)-1].texts, t)
			continue
		}
		if sp == "" {
			sp = UnknownSpeaker
		}
		blocks = append(blocks, &block{speaker: sp, texts: []string{t}})
	}
	res := make([]string, 0, len(blocks))
	for _, b := range blocks {
		res = append(res, fmt.Sprintf("[%s]: %s", b.speaker, strings.Join(b.texts, " ")))
	}
	return strings.Join(res, "\n\n")
}

// rate limited calls are retried too
func isRetryableCode(code int) bool {
	return code == http.StatusTooManyRequests || goapp.IsRetryableCode(code)
}

func asrHTTPClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}

func newTransport() http.RoundTripper {
	// default roundripper is not well suited for our case
	// it has just 2 idle connections per host, so try to tune a bit
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 20
	res.MaxIdleConns = 10
	res.MaxIdleConnsPerHost = 10
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
