/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBodySize = 4 << 10

// Strategy describes how one provider API is probed.
type Strategy struct {
	Name           string
	DefaultBaseURL string

	// ProbePath is requested to validate a credential.
	ProbePath string

	// PremiumPath returns the path requested to detect a paid tier, or "" if the provider has no premium probe.
	PremiumPath func(model string) string

	// Authorize puts the secret into the request.
	Authorize func(req *http.Request, secret string)
}

// Built-in strategies.
var (
	OpenAIStrategy = Strategy{
		Name:           "openai",
		DefaultBaseURL: "https://api.openai.com",
		ProbePath:      "/v1/models",
		PremiumPath: func(model string) string {
			if model == "" {
				return ""
			}
			return "/v1/models/" + url.PathEscape(model)
		},
		Authorize: func(req *http.Request, secret string) {
			req.Header.Set("Authorization", "Bearer "+secret)
		},
	}

	AnthropicStrategy = Strategy{
		Name:           "anthropic",
		DefaultBaseURL: "https://api.anthropic.com",
		ProbePath:      "/v1/models",
		Authorize: func(req *http.Request, secret string) {
			req.Header.Set("x-api-key", secret)
			req.Header.Set("anthropic-version", "2023-06-01")
		},
	}

	GeminiStrategy = Strategy{
		Name:           "gemini",
		DefaultBaseURL: "https://generativelanguage.googleapis.com",
		ProbePath:      "/v1beta/models",
		PremiumPath: func(model string) string {
			if model == "" {
				return ""
			}
			return "/v1beta/models/" + url.PathEscape(model)
		},
		Authorize: func(req *http.Request, secret string) {
			req.Header.Set("x-goog-api-key", secret)
		},
	}
)

// Strategies returns the built-in strategies keyed by provider tag.
func Strategies() map[string]Strategy {
	return map[string]Strategy{
		OpenAIStrategy.Name:    OpenAIStrategy,
		AnthropicStrategy.Name: AnthropicStrategy,
		GeminiStrategy.Name:    GeminiStrategy,
	}
}

// HTTPDoer sends HTTP requests. *http.Client implements it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPValidator probes a provider HTTP API according to a Strategy.
type HTTPValidator struct {
	strategy Strategy
	baseURL  string
	client   HTTPDoer
	premium  bool
	now      func() time.Time
}

var _ Validator = (*HTTPValidator)(nil)

// NewHTTPValidator creates a primary validator. An empty baseURL means the strategy default.
func NewHTTPValidator(strategy Strategy, baseURL string, client HTTPDoer) *HTTPValidator {
	if baseURL == "" {
		baseURL = strategy.DefaultBaseURL
	}
	return &HTTPValidator{
		strategy: strategy,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		now:      time.Now,
	}
}

// Premium returns a premium probe for the same provider, or nil if the strategy has none.
func (v *HTTPValidator) Premium() Validator {
	if v.strategy.PremiumPath == nil {
		return nil
	}
	p := *v
	p.premium = true
	return &p
}

// NewHTTPProvider builds a registry entry from a strategy.
func NewHTTPProvider(strategy Strategy, baseURL string, client HTTPDoer) Provider {
	v := NewHTTPValidator(strategy, baseURL, client)
	return Provider{Name: strategy.Name, Validator: v, Premium: v.Premium()}
}

// Probe implements Validator.
func (v *HTTPValidator) Probe(ctx context.Context, cred Credential) (Outcome, error) {
	path := v.strategy.ProbePath
	if v.premium {
		if path = v.strategy.PremiumPath(cred.Model); path == "" {
			return Outcome{Kind: OutcomeTerminalError, Class: ClassNotFound, Message: "no model to probe"}, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, http.NoBody)
	if err != nil {
		return Outcome{Kind: OutcomeTerminalError, Class: ClassUnknown}, fmt.Errorf("%s: create request: %w", v.strategy.Name, err)
	}
	req.Header.Set("Accept", "application/json")
	v.strategy.Authorize(req, cred.Secret)

	start := v.now()
	resp, err := v.client.Do(req)
	latency := v.now().Sub(start)
	if err != nil {
		c := Classify(err)
		if c.Class == ClassNetwork || c.Class == ClassUnknown {
			// Errors returned by the transport before any response are connectivity problems.
			if !errors.Is(err, ErrTransientNetwork) {
				err = TransientNetworkError(err)
			}
			return Outcome{Kind: OutcomeRetryableError, Class: ClassNetwork, Latency: latency, Message: err.Error()}, err
		}
		kind := OutcomeRetryableError
		if c.Class == ClassRateLimit || c.Class == ClassCircuitOpen {
			kind = OutcomeRateLimited
		}
		return Outcome{Kind: kind, Class: c.Class, StatusCode: c.Code, Latency: latency, Message: err.Error()}, err
	}
	defer func() { _ = resp.Body.Close() }()

	outcome := OutcomeFromStatusCode(resp.StatusCode, latency)
	if outcome.Succeeded() {
		_, _ = io.Copy(io.Discard, resp.Body)
		return outcome, nil
	}
	outcome.Message = readErrorMessage(resp)
	return outcome, nil
}

type providerErrorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// readErrorMessage extracts the provider error message from a JSON error body, falling back to the status text.
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err == nil {
		var parsed providerErrorBody
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return parsed.Error.Message
		}
	}
	return http.StatusText(resp.StatusCode)
}
