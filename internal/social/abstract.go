package social

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/publora/publora/internal/concurrency"
	"github.com/publora/publora/internal/telemetry"
)

// maxFetchRetries bounds the retry loop: 3 retries means 4 total attempts
const maxFetchRetries = 3

// retryBackoff is the fixed delay before a retryable attempt is replayed.
// Variable so tests can shrink it.
var retryBackoff = 5 * time.Second

// rateLimitMarkers are substrings that identify a rate-limit rejection even
// when the provider returns it with a non-429 status.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
}

// ClassKind is an adapter's classification of a provider error body
type ClassKind string

const (
	ClassRetry        ClassKind = "retry"
	ClassRefreshToken ClassKind = "refresh-token"
	ClassBadBody      ClassKind = "bad-body"
)

// Classification is the result of an adapter's HandleErrors hook
type Classification struct {
	Kind  ClassKind
	Value string
}

// ErrorClassifier inspects a raw provider response body and classifies it.
// Returning nil means "no opinion": the abstract falls back to status-code
// rules.
type ErrorClassifier func(body string) *Classification

// RequestOptions describes the HTTP request an adapter wants executed
type RequestOptions struct {
	Method string
	Header http.Header
	Body   []byte
}

// Response is the provider's successful reply
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Abstract is the execution base adapters embed. It is stateless across calls
// apart from its configuration.
type Abstract struct {
	// Identifier keys the concurrency bucket and error reporting
	Identifier string
	// MaxConcurrentJob bounds parallel calls in this adapter's bucket
	MaxConcurrentJob int
	// HandleErrors optionally overrides error classification per provider
	HandleErrors ErrorClassifier

	Limiter *concurrency.Registry
	Client  *http.Client
}

func (a *Abstract) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *Abstract) maxConcurrent() int {
	if a.MaxConcurrentJob > 0 {
		return a.MaxConcurrentJob
	}
	return 1
}

// Fetch performs an HTTP call through the adapter's concurrency bucket with
// bounded retry and three-way error classification.
//
// 200/201 returns the response. 429/500, a recognized rate-limit marker in
// the body, or a classifier verdict of "retry" sleeps retryBackoff and tries
// again, up to maxFetchRetries. 401 with no classification (or a
// "refresh-token" verdict) fails with *RefreshTokenError. Everything else,
// including an exhausted retry budget, fails with *BadBodyError.
func (a *Abstract) Fetch(ctx context.Context, url string, opts *RequestOptions, ignoreConcurrency bool) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{Method: http.MethodGet}
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	requestBody := string(opts.Body)

	for attempt := 0; ; attempt++ {
		resp, err := a.doOnce(ctx, url, opts, ignoreConcurrency)
		if err != nil {
			// Scheduling failures and transport errors that survive the retry
			// budget are terminal.
			if attempt < maxFetchRetries && !isScheduleError(err) {
				telemetry.PublishAttemptsTotal.WithLabelValues(a.Identifier, "retry").Inc()
				if serr := sleepCtx(ctx, retryBackoff); serr != nil {
					return nil, &BadBodyError{Identifier: a.Identifier, Body: serr.Error(), RequestBody: requestBody}
				}
				continue
			}
			return nil, &BadBodyError{Identifier: a.Identifier, Body: err.Error(), RequestBody: requestBody}
		}

		switch a.classifyResponse(resp) {
		case verdictOK:
			telemetry.PublishAttemptsTotal.WithLabelValues(a.Identifier, "success").Inc()
			return resp, nil
		case verdictRetry:
			if attempt >= maxFetchRetries {
				telemetry.PublishAttemptsTotal.WithLabelValues(a.Identifier, "bad_body").Inc()
				return nil, &BadBodyError{Identifier: a.Identifier, Body: string(resp.Body), RequestBody: requestBody}
			}
			telemetry.PublishAttemptsTotal.WithLabelValues(a.Identifier, "retry").Inc()
			if serr := sleepCtx(ctx, retryBackoff); serr != nil {
				return nil, &BadBodyError{Identifier: a.Identifier, Body: serr.Error(), RequestBody: requestBody}
			}
		case verdictRefreshToken:
			telemetry.PublishAttemptsTotal.WithLabelValues(a.Identifier, "refresh_token").Inc()
			return nil, &RefreshTokenError{Identifier: a.Identifier, Body: string(resp.Body), RequestBody: requestBody}
		default:
			telemetry.PublishAttemptsTotal.WithLabelValues(a.Identifier, "bad_body").Inc()
			return nil, &BadBodyError{Identifier: a.Identifier, Body: string(resp.Body), RequestBody: requestBody}
		}
	}
}

type verdict int

const (
	verdictOK verdict = iota
	verdictRetry
	verdictRefreshToken
	verdictBadBody
)

func (a *Abstract) classifyResponse(resp *Response) verdict {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return verdictOK
	}

	body := string(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusInternalServerError {
		return verdictRetry
	}
	if containsRateLimitMarker(body) {
		return verdictRetry
	}

	var cls *Classification
	if a.HandleErrors != nil {
		cls = a.HandleErrors(body)
	}
	if cls != nil && cls.Kind == ClassRetry {
		return verdictRetry
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if cls == nil || cls.Kind == ClassRefreshToken {
			return verdictRefreshToken
		}
	}
	return verdictBadBody
}

// doOnce executes one HTTP attempt through the concurrency bucket. A nil
// response with nil error never happens: the bucket swallows the task error,
// so the closure captures both outputs explicitly.
func (a *Abstract) doOnce(ctx context.Context, url string, opts *RequestOptions, ignoreConcurrency bool) (*Response, error) {
	var out *Response
	var doErr error

	schedErr := a.Limiter.Schedule(ctx, a.Identifier, a.maxConcurrent(), ignoreConcurrency, func(ctx context.Context) error {
		var bodyReader io.Reader
		if len(opts.Body) > 0 {
			bodyReader = bytes.NewReader(opts.Body)
		}
		req, err := http.NewRequestWithContext(ctx, opts.Method, url, bodyReader)
		if err != nil {
			doErr = err
			return err
		}
		for k, vs := range opts.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := a.httpClient().Do(req)
		if err != nil {
			doErr = err
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			doErr = err
			return err
		}
		out = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		return nil
	})
	if schedErr != nil {
		return nil, schedErr
	}
	if doErr != nil {
		return nil, doErr
	}
	return out, nil
}

// RunInConcurrent runs arbitrary non-HTTP work through the adapter's bucket.
// A failure is classified via the HandleErrors hook and normalized into the
// *BadBodyError shape so callers keep a single error taxonomy. A classifier
// verdict of "refresh-token" surfaces as *RefreshTokenError so credential
// failures inside custom work behave like 401s from Fetch.
func (a *Abstract) RunInConcurrent(ctx context.Context, fn func(context.Context) (any, error), ignoreConcurrency bool) (any, error) {
	var result any
	var fnErr error

	schedErr := a.Limiter.Schedule(ctx, a.Identifier, a.maxConcurrent(), ignoreConcurrency, func(ctx context.Context) error {
		result, fnErr = fn(ctx)
		return fnErr
	})
	if schedErr != nil {
		return nil, &BadBodyError{Identifier: a.Identifier, Body: schedErr.Error()}
	}
	if fnErr == nil {
		return result, nil
	}

	if a.HandleErrors != nil {
		if cls := a.HandleErrors(fnErr.Error()); cls != nil && cls.Kind == ClassRefreshToken {
			return nil, &RefreshTokenError{Identifier: a.Identifier, Body: cls.Value}
		}
	}
	return nil, &BadBodyError{Identifier: a.Identifier, Body: fnErr.Error()}
}

// CheckScopes verifies every required scope was granted. The granted set may
// be a []string or a single delimiter-joined string; the delimiter is
// auto-detected as comma vs. space.
func CheckScopes(required []string, granted any) error {
	var got []string
	switch g := granted.(type) {
	case []string:
		got = g
	case string:
		sep := " "
		if strings.Contains(g, ",") {
			sep = ","
		}
		for _, s := range strings.Split(g, sep) {
			if s = strings.TrimSpace(s); s != "" {
				got = append(got, s)
			}
		}
	}

	have := make(map[string]bool, len(got))
	for _, s := range got {
		have[s] = true
	}

	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return &NotEnoughScopesError{Missing: missing}
	}
	return nil
}

// Mention is the default @mention lookup; adapters that support it override
// this on their own type.
func (a *Abstract) Mention(ctx context.Context, query string) ([]MentionResult, error) {
	return nil, ErrMentionNotSupported
}

// MentionResult is one @mention lookup candidate
type MentionResult struct {
	ID       string
	Username string
	Display  string
	Picture  string
}

func containsRateLimitMarker(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isScheduleError(err error) bool {
	_, ok := err.(*concurrency.ScheduleError)
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
