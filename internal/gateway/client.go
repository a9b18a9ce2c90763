package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	maxAttempts      = 3
	defaultBaseDelay = 2 * time.Second
)

// UpstreamError is returned when the inference service answers with a
// non-success status after all retry attempts are exhausted.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream service returned status %d: %s", e.StatusCode, e.Body)
}

// CompletionRequest describes one chat/completion call. System and User map to
// the two-message prompt the inference service expects.
type CompletionRequest struct {
	System       string
	User         string
	Temperature  float64
	MaxTokens    int
	JSONResponse bool
}

// Client is the single entry point to the external inference service. Every
// call retries up to three times with a linearly growing delay before the
// original error is propagated.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	// baseDelay is multiplied by the attempt number (2s, 4s, 6s).
	baseDelay time.Duration
}

func NewClient(baseURL, apiKey, model string) Client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseDelay: defaultBaseDelay,
	}
}

type completionPayload struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Messages       []chatMessage     `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload := completionPayload{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	if req.JSONResponse {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal completion payload")
	}

	resp, err := c.doWithRetry(ctx, c.baseURL+"/v1/chat/completions", "application/json", func() io.Reader {
		return bytes.NewReader(body)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var wrapper struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return "", errors.Wrap(err, "decode completion response")
	}
	if len(wrapper.Choices) == 0 {
		return "", errors.New("completion response contained no choices")
	}
	return strings.TrimSpace(wrapper.Choices[0].Message.Content), nil
}

func (c *client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.wav"
	}

	// The multipart body is built once; retries replay the same bytes so the
	// boundary in the Content-Type header stays valid.
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, "build transcription request")
	}
	if _, err := part.Write(audio); err != nil {
		return "", errors.Wrap(err, "build transcription request")
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", errors.Wrap(err, "build transcription request")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "build transcription request")
	}
	payload := body.Bytes()

	resp, err := c.doWithRetry(ctx, c.baseURL+"/v1/audio/transcriptions", writer.FormDataContentType(), func() io.Reader {
		return bytes.NewReader(payload)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "decode transcription response")
	}
	return result.Text, nil
}

// doWithRetry posts the body up to maxAttempts times. Both transport errors
// and non-2xx statuses count as failures; the delay before attempt n+1 is
// baseDelay * n. The last error is returned as-is, never swallowed.
func (c *client) doWithRetry(ctx context.Context, url, contentType string, body func() io.Reader) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body())
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		req.Header.Set("Content-Type", contentType)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		} else {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(c.baseDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}
