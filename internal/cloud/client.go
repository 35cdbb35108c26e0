package cloud

import (
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every cloud request when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// maxExcerpt bounds how much of an error body ends up in error text.
const maxExcerpt = 256

// Logger is the logging interface used by the cloud clients.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewHTTPClient returns the client shared by the cloud collaborators.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// excerpt reads at most maxExcerpt bytes of body for error messages.
func excerpt(body io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(body, maxExcerpt)) //nolint:errcheck // Best effort
	return strings.TrimSpace(string(b))
}
