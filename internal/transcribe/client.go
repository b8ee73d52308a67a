// Package transcribe provides a client for the whisper-style HTTP inference server
package transcribe

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

	"github.com/fenwick-labs/earmark/internal/audio"
	apperrors "github.com/fenwick-labs/earmark/internal/errors"
	"github.com/fenwick-labs/earmark/internal/resilience"
	"github.com/fenwick-labs/earmark/internal/trace"
)

// Transcriber converts an audio chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk audio.Chunk) (string, error)
}

// Config holds inference server connection settings.
type Config struct {
	Endpoint      string
	APIKey        string
	Language      string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	Temperature   float64
}

// Client posts WAV-encoded chunks to the inference server. Concurrency is
// bounded by a semaphore; transient failures retry with backoff behind a
// circuit breaker so a dead server fails fast instead of queueing chunks.
type Client struct {
	cfg        Config
	httpClient *http.Client
	semaphore  chan struct{}
	breaker    *resilience.Breaker
	retry      resilience.RetryConfig
}

// New creates a transcription client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	retry := resilience.TranscribeRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		semaphore:  make(chan struct{}, cfg.MaxConcurrent),
		breaker:    resilience.New(resilience.DefaultConfig()),
		retry:      retry,
	}
}

// Transcribe encodes the chunk as WAV and posts it to the inference server.
// An empty chunk transcribes to empty text without a request.
func (c *Client) Transcribe(ctx context.Context, chunk audio.Chunk) (string, error) {
	if len(chunk.Samples) == 0 {
		return "", nil
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	wav, err := audio.EncodeWAV(chunk.Samples)
	if err != nil {
		return "", err
	}

	ctx, span := trace.StartSpan(ctx, "transcribe")
	defer span.End()
	span.SetAttr("chunk_id", chunk.ID.String())
	span.SetAttr("audio_seconds", chunk.Duration().Seconds())

	var text string
	err = resilience.Retry(ctx, c.retry, func() error {
		return c.breaker.Execute(func() error {
			var reqErr error
			text, reqErr = c.doRequest(ctx, wav, chunk)
			return reqErr
		})
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// doRequest performs a single multipart POST and parses the response.
func (c *Client) doRequest(ctx context.Context, wav []byte, chunk audio.Chunk) (string, error) {
	body, contentType, err := buildForm(wav, chunk, c.cfg)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "failed to build transcription request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInvalidArgument, "failed to create transcription request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	trace.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeUnavailable, "inference server unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeUnavailable, "failed to read inference response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to parse
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", apperrors.Newf(apperrors.CodeTranscribeFailed, "inference server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	default:
		return "", apperrors.Newf(apperrors.CodeInvalidArgument, "inference server rejected request with %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeTranscribeFailed, "failed to parse inference response")
	}
	return strings.TrimSpace(parsed.Text), nil
}

// buildForm assembles the multipart body: the WAV file plus the metadata
// fields the inference server understands.
func buildForm(wav []byte, chunk audio.Chunk, cfg Config) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", chunk.ID.String()+".wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"response_format": "json",
		"sample_rate":     fmt.Sprintf("%d", audio.TargetSampleRate),
		"source":          string(chunk.Source),
		"start_time":      chunk.Start.Format(time.RFC3339),
	}
	if cfg.Language != "" {
		fields["language"] = cfg.Language
	}
	if cfg.Temperature > 0 {
		fields["temperature"] = fmt.Sprintf("%.2f", cfg.Temperature)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
