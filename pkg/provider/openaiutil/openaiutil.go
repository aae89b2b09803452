// Package openaiutil holds helpers shared by the OpenAI-backed providers:
// client construction and mapping of SDK errors onto the fault taxonomy.
package openaiutil

import (
	"errors"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/sflow/pkg/fault"
)

// ClientConfig holds the options common to every OpenAI-backed provider.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient builds an SDK client with SDK-level retries disabled; retrying is
// the caller's job.
func NewClient(cfg ClientConfig) oai.Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.Timeout > 0:
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return oai.NewClient(opts...)
}

// Classify maps an error returned by the SDK onto the fault taxonomy.
// API status errors are mapped by status code; transport errors become
// ConnectionFailed; everything else becomes fallback.
func Classify(op string, err error, fallback fault.Kind) error {
	if err == nil {
		return nil
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return fault.New(KindForStatus(apiErr.StatusCode), op, err)
	}
	return fault.Classify(op, err, fallback)
}

// KindForStatus maps an HTTP status code onto a fault kind.
func KindForStatus(code int) fault.Kind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fault.InvalidCredential
	case http.StatusTooManyRequests:
		return fault.RateLimited
	default:
		return fault.RemoteServiceError
	}
}
