package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/samcharles93/nexttoken/internal/distribution"
)

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 64 << 10

// mapNetworkError classifies a transport failure as a timeout or an
// unreachable upstream.
func mapNetworkError(target string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return distribution.UpstreamTimeout(target, err)
	}
	return distribution.UpstreamUnreachable(target, err)
}

// mapHTTPError turns a non-2xx response into ErrUpstreamError, keeping the
// body verbatim.
func mapHTTPError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return distribution.UpstreamError(resp.StatusCode, strings.TrimSpace(string(data)))
}
