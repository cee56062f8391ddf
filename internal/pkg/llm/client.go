package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
)

const defaultURL = "https://api.openai.com/v1"

// Options for the LLM client
type Options struct {
	URL     string
	Key     string
	Model   string
	Timeout time.Duration
}

// Request is one chat completion call
type Request struct {
	System string
	User   string
}

// Client calls an OpenAI compatible chat completions endpoint
type Client struct {
	httpclient *http.Client
	url        string
	key        string
	model      string
	timeout    time.Duration
	backoff    func() backoff.BackOff
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates the client, the key and model are required
func NewClient(opt Options) (*Client, error) {
	if opt.Key == "" {
		return nil, fmt.Errorf("no llm key")
	}
	if opt.Model == "" {
		return nil, fmt.Errorf("no llm model")
	}
	url := opt.URL
	if url == "" {
		url = defaultURL
	}
	if !strings.HasPrefix(url, "http") {
		return nil, fmt.Errorf("no http in llm URL")
	}
	res := &Client{url: strings.TrimSuffix(url, "/") + "/chat/completions", key: opt.Key, model: opt.Model,
		timeout: opt.Timeout}
	if res.timeout <= 0 {
		res.timeout = time.Minute * 3
	}
	res.httpclient = &http.Client{}
	res.backoff = newSimpleBackoff
	goapp.Log.Info().Str("url", res.url).Str("model", res.model).Dur("timeout", res.timeout).Msg("llm")
	return res, nil
}

// Complete sends the prompts and returns the content of the first choice.
// The model is asked for a JSON object.
func (c *Client) Complete(ctx context.Context, r *Request) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Temperature: 0.1,
		Messages:       []message{{Role: "system", Content: r.System}, {Role: "user", Content: r.User}},
		ResponseFormat: responseFormat{Type: "json_object"}})
	if err != nil {
		return "", fmt.Errorf("can't marshal request: %w", err)
	}
	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, c.timeout)
		defer cancelF()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.key)
		goapp.Log.Debug().Str("url", req.URL.String()).Int("size", len(body)).Msg("call")
		resp, err := c.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			return "", isRetryableCode(resp.StatusCode), fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
		}
		var respData chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return "", false, &BadResponseError{Msg: "can't decode response", Err: err}
		}
		if len(respData.Choices) == 0 {
			return "", false, &BadResponseError{Msg: "no choices"}
		}
		res := strings.TrimSpace(respData.Choices[0].Message.Content)
		if res == "" {
			return "", false, &BadResponseError{Msg: "empty content"}
		}
		return res, false, nil
	}, c.backoff())
}

func isRetryableCode(code int) bool {
	return code == http.StatusTooManyRequests || goapp.IsRetryableCode(code)
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	res.InitialInterval = time.Second * 2
	return backoff.WithMaxRetries(res, 3)
}
