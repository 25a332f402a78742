package proxy

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// UpstreamError reports a non-2xx answer from the third-party API. The status
// is forwarded to the caller unchanged.
type UpstreamError struct {
	Endpoint   string
	Status     int
	StatusText string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream returned %d %s", e.Endpoint, e.Status, e.StatusText)
}

func newUpstreamError(endpoint string, resp *http.Response) *UpstreamError {
	return &UpstreamError{
		Endpoint:   endpoint,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
	}
}

// statusText 提取 "404 Not Found" 中的原因短语，缺失时回退到标准文本。
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
