package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/openai/openai-go/v3"
)

// Error classes returned by the gateway. Match them with errors.Is; the concrete
// value is always a *GatewayError carrying the class as its Kind.
var (
	// ErrConfiguration means the provider credential is missing or was rejected.
	ErrConfiguration = errors.New("ai provider configuration error")
	// ErrSafetyBlocked means the provider refused the input on content-policy grounds.
	ErrSafetyBlocked = errors.New("blocked by provider safety filters")
	// ErrNetwork means the provider could not be reached.
	ErrNetwork = errors.New("could not reach ai provider")
	// ErrTimeout means the client-side deadline expired before the provider answered.
	ErrTimeout = errors.New("ai provider timed out")
	// ErrResponseFormat means the provider answered with empty or non-conforming output.
	ErrResponseFormat = errors.New("ai provider returned malformed output")
	// ErrRateLimited means the provider is throttling this client.
	ErrRateLimited = errors.New("ai provider rate limited")
	// ErrUnknown covers every other provider failure.
	ErrUnknown = errors.New("ai provider error")
	// ErrInvalidRequest means the request did not carry the inputs its action needs.
	ErrInvalidRequest = errors.New("invalid analysis request")
)

// GatewayError is the concrete error returned by Gateway.Invoke.
type GatewayError struct {
	Kind       error
	Action     Action
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString(e.Action.String())
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		b.WriteString(" (status ")
		b.WriteString(strconv.Itoa(e.StatusCode))
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the class and the underlying cause to errors.Is/As.
func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the user can reasonably try the same action again.
func (e *GatewayError) Retryable() bool {
	return e.Kind != ErrConfiguration
}

// RetryAfterHint returns the provider's retry hint for rate-limited errors.
func RetryAfterHint(err error) (time.Duration, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && errors.Is(gwErr.Kind, ErrRateLimited) && gwErr.RetryAfter > 0 {
		return gwErr.RetryAfter, true
	}
	return 0, false
}

func formatError(action Action, msg string, cause error) *GatewayError {
	return &GatewayError{Kind: ErrResponseFormat, Action: action, Message: msg, Err: cause}
}

// classifyError maps transport and API failures onto the gateway error classes.
func classifyError(action Action, err error) *GatewayError {
	if err == nil {
		return nil
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: ErrTimeout, Action: action, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &GatewayError{Kind: ErrUnknown, Action: action, Message: "request canceled", Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyAPIError(action, apiErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GatewayError{Kind: ErrTimeout, Action: action, Err: err}
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return &GatewayError{Kind: ErrNetwork, Action: action, Err: err}
	}

	return &GatewayError{Kind: classifyMessage(err.Error()), Action: action, Err: err}
}

func classifyAPIError(action Action, apiErr *openai.Error) *GatewayError {
	out := &GatewayError{
		Kind:       ErrUnknown,
		Action:     action,
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Message,
		Err:        apiErr,
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		out.Kind = ErrConfiguration
	case http.StatusTooManyRequests:
		out.Kind = ErrRateLimited
		if apiErr.Response != nil {
			out.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		out.Kind = ErrTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		out.Kind = ErrNetwork
	default:
		out.Kind = classifyMessage(strings.Join([]string{apiErr.Code, apiErr.Type, apiErr.Message, apiErr.Error()}, " "))
	}
	return out
}

// classifyMessage is the last resort for providers that report everything as a 400
// or 500 with a free-text message.
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "safety"), strings.Contains(lower, "content_filter"),
		strings.Contains(lower, "content policy"), strings.Contains(lower, "content_policy"):
		return ErrSafetyBlocked
	case strings.Contains(lower, "api key"), strings.Contains(lower, "api_key"),
		strings.Contains(lower, "invalid_api_key"), strings.Contains(lower, "unauthorized"):
		return ErrConfiguration
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"):
		return ErrRateLimited
	case strings.Contains(lower, "connection"), strings.Contains(lower, "fetch failed"),
		strings.Contains(lower, "no such host"):
		return ErrNetwork
	default:
		return ErrUnknown
	}
}

// parseRetryAfter reads either delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now).Round(time.Second)
	}
	return 0
}

func safetyBlocked(action Action, reason string) *GatewayError {
	return &GatewayError{
		Kind:    ErrSafetyBlocked,
		Action:  action,
		Message: fmt.Sprintf("finish reason %q", reason),
	}
}
