package inform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jordan-wright/email"
	"github.com/spf13/viper"
)

// FakeEmailSender posts the email as JSON to smtp.fakeUrl instead of sending it,
// used in test environments
type FakeEmailSender struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

type fakeEmail struct {
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// NewFakeEmailSender initiates email sender
func NewFakeEmailSender(c *viper.Viper) (*FakeEmailSender, error) {
	res := &FakeEmailSender{url: c.GetString("smtp.fakeUrl"), httpClient: &http.Client{}, timeout: c.GetDuration("smtp.timeout")}
	if res.url == "" {
		return nil, fmt.Errorf("no URL")
	}
	if res.timeout <= 0 {
		res.timeout = time.Second * 5
	}
	goapp.Log.Info().Str("URL", res.url).Dur("timeout", res.timeout).Msg("fake sender")
	return res, nil
}

// Send posts email
func (s *FakeEmailSender) Send(e *email.Email) error {
	body, err := json.Marshal(fakeEmail{From: e.From, To: e.To, Subject: e.Subject, Text: string(e.Text), HTML: string(e.HTML)})
	if err != nil {
		return fmt.Errorf("can't marshal: %w", err)
	}
	ctx, cancelF := context.WithTimeout(context.Background(), s.timeout)
	defer cancelF()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("can't prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()
	if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
		return fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
	}
	return nil
}
