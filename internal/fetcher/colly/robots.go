package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/gfd-crawler/internal/crawler"
	"github.com/JakeFAU/gfd-crawler/internal/metrics"
)

// FallbackHeader marks a synthetic allow-all robots.txt served after the
// TLS handshake kept timing out.
const FallbackHeader = "X-Gfd-Robots-Fallback"

const robotsFallbackReasonTLSHandshake = "tls-handshake-timeout"

const allowAllRobots = "User-agent: *\nAllow: /"

// defaultPolicyBackoff is the wait before each retry; its length is the
// retry count.
var defaultPolicyBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// policyRetryTransport retries policy (robots.txt) fetches whose TLS
// handshake times out. Page fetches pass straight through.
type policyRetryTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

func (t *policyRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("policy transport received nil request")
	}
	if !crawler.IsPolicyTask(req.URL) {
		return t.base.RoundTrip(req)
	}

	schedule := t.backoff
	if schedule == nil {
		schedule = defaultPolicyBackoff
	}
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil:
			return resp, nil
		case !isHandshakeTimeout(err):
			return nil, err
		case attempt == len(schedule):
			return allowAllResponse(req), nil
		}
		metrics.ObserveRobotsTLSRetry()
		if err := wait(req.Context(), schedule[attempt]); err != nil {
			return nil, err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// allowAllResponse carries no Content-Type, so the worker, which requires
// text/plain, treats it as no policy while colly's own robots check passes.
func allowAllResponse(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set(FallbackHeader, robotsFallbackReasonTLSHandshake)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        header,
		Request:       req,
	}
}

func isHandshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
