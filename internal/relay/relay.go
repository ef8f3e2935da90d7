package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxRetries  = 2
	defaultBackoffStep = time.Second
	maxResponseBytes   = 8 << 20
)

// Config carries the static upstream settings every call is stamped with.
type Config struct {
	BaseURL         string
	APIKey          string
	BasicAuthSecret string
	AppVersion      string
	Origin          string
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Relay delivers logical requests to the upstream origin and normalizes
// every outcome into a Result.
type Relay struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	basicAuth   string
	appVersion  string
	origin      string
	maxRetries  int
	backoffStep time.Duration
	sleep       SleepFunc
}

type Option func(*Relay)

func WithHTTPClient(client *http.Client) Option {
	return func(r *Relay) {
		r.client = client
	}
}

func WithSleepFunc(sleep SleepFunc) Option {
	return func(r *Relay) {
		r.sleep = sleep
	}
}

// WithRetryPolicy overrides the number of edge-block retries and the linear backoff step.
func WithRetryPolicy(maxRetries int, step time.Duration) Option {
	return func(r *Relay) {
		r.maxRetries = maxRetries
		r.backoffStep = step
	}
}

func New(cfg Config, options ...Option) *Relay {
	r := &Relay{
		client:      &http.Client{},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		basicAuth:   encodeBasicSecret(cfg.BasicAuthSecret),
		appVersion:  cfg.AppVersion,
		origin:      strings.TrimRight(cfg.Origin, "/"),
		maxRetries:  defaultMaxRetries,
		backoffStep: defaultBackoffStep,
		sleep:       sleepContext,
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Call performs req against the upstream using token for bearer auth.
// It never returns a transport error: every outcome is a Result.
func (r *Relay) Call(ctx context.Context, req Request, token string) Result {
	requestID := uuid.New().String()
	method := req.method()
	profile := profileFor(req)

	logger := log.With().
		Str("request_id", requestID).
		Str("endpoint", req.Endpoint).
		Str("method", method).
		Str("profile", profile.String()).
		Str("auth", req.Auth.String()).
		Logger()

	if req.JSON != nil && req.Multipart != nil {
		return failure(KindInvalidRequest, 0, "request cannot carry both JSON and multipart bodies")
	}
	if req.Endpoint == "" || strings.Contains(req.Endpoint, "://") {
		return failure(KindInvalidRequest, 0, "endpoint must be a path on the upstream origin")
	}

	var (
		body        []byte
		contentType string
	)

	switch {
	case req.Multipart != nil:
		if err := req.Multipart.Validate(); err != nil {
			logger.Warn().Err(err).Msg("Rejected multipart payload before transmission")
			kind := KindInvalidRequest
			if errors.Is(err, ErrInvalidAttachment) {
				kind = KindInvalidAttachment
			}
			return failure(kind, 0, err.Error())
		}
		encoded, ct, err := encodeMultipart(req.Multipart, newBoundary())
		if err != nil {
			return failure(KindInvalidRequest, 0, err.Error())
		}
		body, contentType = encoded, ct
	case req.JSON != nil:
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return failure(KindInvalidRequest, 0, fmt.Sprintf("failed to marshal request: %v", err))
		}
		body, contentType = encoded, jsonAPIType
	}

	url := r.resolve(req.Endpoint)

	var (
		status   int
		respBody []byte
		attempt  int
	)

	for attempt = 1; attempt <= r.maxRetries+1; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return failure(KindInvalidRequest, 0, fmt.Sprintf("failed to create request: %v", err))
		}
		r.applyHeaders(httpReq.Header, profile, req.Auth, token, contentType)

		logger.Debug().Int("attempt", attempt).Msg("Sending request upstream")

		status, respBody, err = r.do(httpReq)
		if err != nil {
			logger.Error().Err(err).Int("attempt", attempt).Msg("Transport failure calling upstream")
			res := failure(KindTransportFailure, 0, fmt.Sprintf("failed to reach upstream: %v", err))
			res.Attempts = attempt
			return res
		}

		if !isEdgeBlock(status, respBody) || attempt > r.maxRetries {
			break
		}

		delay := time.Duration(attempt) * r.backoffStep
		logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", r.maxRetries+1).
			Dur("backoff", delay).
			Msg("Upstream edge blocked request, retrying...")

		if err := r.sleep(ctx, delay); err != nil {
			logger.Warn().Err(err).Msg("Retry backoff interrupted")
			break
		}
	}

	res := r.normalize(status, respBody)
	res.Attempts = attempt

	if res.OK {
		logger.Debug().Int("status", status).Int("attempts", attempt).Msg("Upstream call succeeded")
	} else {
		logger.Warn().Int("status", status).Int("attempts", attempt).Str("kind", string(res.Kind)).Str("detail", res.Detail).Msg("Upstream call failed")
	}

	return res
}

func (r *Relay) do(req *http.Request) (int, []byte, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (r *Relay) normalize(status int, body []byte) Result {
	data := decodeBody(body)

	if status >= 200 && status < 300 {
		return Result{OK: true, Status: status, Data: data}
	}

	if isEdgeBlock(status, body) {
		return Result{
			OK:               false,
			Status:           status,
			Data:             data,
			Kind:             KindTransientEdgeBlock,
			Detail:           "request blocked by upstream edge network",
			IsTransientBlock: true,
			Message:          EdgeBlockMessage,
		}
	}

	detail := ErrorDetail(data)
	if detail == "" {
		detail = http.StatusText(status)
	}

	return Result{
		OK:      false,
		Status:  status,
		Data:    data,
		Kind:    KindUpstreamRejected,
		Detail:  detail,
		Message: detail,
	}
}

// resolve joins endpoint onto the configured origin. Absolute URLs are not
// accepted so the relay can only ever reach its own upstream.
func (r *Relay) resolve(endpoint string) string {
	return r.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}
