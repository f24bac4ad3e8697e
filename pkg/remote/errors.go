package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
)

// APIError is the error body returned by the management API.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Title      string `json:"error"`
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode"`

	Method string `json:"-"`
	Path   string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	if e.Method != "" {
		fmt.Fprintf(&b, "%s %s: ", e.Method, e.Path)
	}
	fmt.Fprintf(&b, "%d", e.StatusCode)
	if e.ErrorCode != "" {
		fmt.Fprintf(&b, " %s", e.ErrorCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if e.Title != "" {
		fmt.Fprintf(&b, ": %s", e.Title)
	}
	return b.String()
}

// featureCodes are error codes the API returns when the tenant plan or
// configuration does not include a feature.
var featureCodes = map[string]bool{
	"feature_not_enabled":     true,
	"hooks_not_allowed":       true,
	"operation_not_supported": true,
	"tenant_feature_disabled": true,
}

// Class classifies the API error.
func (e *APIError) Class() engine.RemoteClass {
	switch {
	case e.StatusCode == http.StatusForbidden && e.ErrorCode == "insufficient_scope":
		return engine.RemoteInsufficientScope
	case featureCodes[e.ErrorCode]:
		return engine.RemoteFeatureUnavailable
	case (e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusNotFound) &&
		strings.Contains(strings.ToLower(e.Message), "not enabled"):
		return engine.RemoteFeatureUnavailable
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError:
		return engine.RemoteTransient
	default:
		return engine.RemoteFatal
	}
}

// Classify implements engine.Classifier for management API errors. Network
// timeouts are transient; cancellation and unknown errors are fatal.
func Classify(err error) engine.RemoteClass {
	if err == nil {
		return engine.RemoteFatal
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return engine.RemoteFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return engine.RemoteTransient
	}

	return engine.RemoteFatal
}

// NotFound reports whether err is a 404 from the API.
func NotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
