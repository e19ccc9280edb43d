package session

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

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/duynhne/trial-service/internal/core/domain"
)

const (
	defaultMaxTries      = 3
	defaultRetryInterval = 250 * time.Millisecond
	maxErrorBody         = 4 << 10
)

// RemoteValidator calls the validation service over HTTP. Transport errors
// and 5xx responses are retried with exponential backoff; 4xx responses are
// final.
type RemoteValidator struct {
	endpoint      string
	client        *http.Client
	maxTries      uint
	retryInterval time.Duration
}

// RemoteOption customizes a RemoteValidator.
type RemoteOption func(*RemoteValidator)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(v *RemoteValidator) { v.client = c }
}

// WithMaxTries bounds the number of attempts per validation.
func WithMaxTries(n uint) RemoteOption {
	return func(v *RemoteValidator) {
		if n > 0 {
			v.maxTries = n
		}
	}
}

// WithRetryInterval sets the first backoff interval.
func WithRetryInterval(d time.Duration) RemoteOption {
	return func(v *RemoteValidator) { v.retryInterval = d }
}

// NewRemoteValidator targets the service at baseURL, e.g. http://localhost:8080.
func NewRemoteValidator(baseURL string, opts ...RemoteOption) *RemoteValidator {
	v := &RemoteValidator{
		endpoint:      strings.TrimRight(baseURL, "/") + "/validate-code",
		client:        &http.Client{Timeout: 10 * time.Second},
		maxTries:      defaultMaxTries,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate asks the service for a decision on code for userID.
func (v *RemoteValidator) Validate(ctx context.Context, code, userID string) (domain.Decision, error) {
	body, err := json.Marshal(domain.ValidateRequest{Code: code, UserID: userID})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("encode request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = v.retryInterval

	decision, err := backoff.Retry(ctx, func() (domain.Decision, error) {
		return v.post(ctx, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(v.maxTries))
	if err != nil {
		if errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrRejected) || errors.Is(err, ErrValidationUnavailable) {
			return domain.Decision{}, err
		}
		return domain.Decision{}, fmt.Errorf("%w: %w", ErrValidationUnavailable, err)
	}
	return decision, nil
}

func (v *RemoteValidator) post(ctx context.Context, body []byte) (domain.Decision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Decision{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := v.client.Do(req)
	if err != nil {
		return domain.Decision{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var d domain.Decision
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return domain.Decision{}, backoff.Permanent(fmt.Errorf("%w: decode response: %w", ErrValidationUnavailable, err))
		}
		return d, nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.Decision{}, backoff.Permanent(ErrInvalidCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return domain.Decision{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, errorMessage(resp)))
	default:
		return domain.Decision{}, fmt.Errorf("%w: status %d: %s", ErrValidationUnavailable, resp.StatusCode, errorMessage(resp))
	}
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the status text.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return http.StatusText(resp.StatusCode)
}
