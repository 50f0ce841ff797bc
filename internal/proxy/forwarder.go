// forwarder.go relays validated requests to the upstream provider. Buffered
// responses are read fully and replayed; streaming responses (SSE/NDJSON)
// are piped byte-for-byte with a flush per chunk, with a bounded tail
// capture so the usage tracker can still read terminal usage frames.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ai-guard/ai-guard/internal/config"
	"github.com/ai-guard/ai-guard/internal/providers"
)

// droppedRequestHeaders never travel upstream. The gateway's own routing and
// credential headers obviously must not leak; the rest are hop-by-hop or
// client-tooling noise recomputed by the transport.
var droppedRequestHeaders = []string{
	"host",
	"x-ai-guard-provider",
	"authorization",
	"connection",
	"content-length",
	"user-agent",
	"accept-encoding",
	"postman-token",
	"cache-control",
	"pragma",
}

// droppedResponseHeaders are hop-by-hop headers stripped from relayed
// responses; the gateway's own transport recomputes them.
var droppedResponseHeaders = []string{
	"content-encoding",
	"transfer-encoding",
	"connection",
}

// streamTailBytes bounds the streaming capture used for usage extraction.
// Provider usage frames arrive at the end of a stream, so keeping the tail
// is sufficient and keeps memory per in-flight stream constant.
const streamTailBytes = 64 << 10

// ErrUpstreamTimeout marks a per-attempt timeout; the pipeline maps it to a
// 504 and suppresses the usage record.
var ErrUpstreamTimeout = errors.New("proxy: upstream request timed out")

// ErrUpstreamUnreachable marks a transport-level failure after retries.
var ErrUpstreamUnreachable = errors.New("proxy: upstream unreachable")

// Request is a fully resolved upstream call.
type Request struct {
	Provider   providers.Provider
	Entry      providers.Entry
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	Credential *Credential
	// Streaming selects the piped transfer mode.
	Streaming bool
}

// Outcome is what the forwarder observed, consumed by the usage tracker.
type Outcome struct {
	StatusCode int
	// ResponseBody is the full body for buffered responses and the bounded
	// tail for streamed ones.
	ResponseBody []byte
	Streamed     bool
	Duration     time.Duration
}

// Forwarder relays requests upstream with retry and timeout policy.
type Forwarder struct {
	client *http.Client
	cfg    config.ForwarderConfig
}

// NewForwarder creates a Forwarder. The shared client carries no global
// timeout; attempts are bounded individually so streaming responses are not
// cut off mid-generation.
func NewForwarder(cfg config.ForwarderConfig) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
			// Redirects from providers would re-send the credential to an
			// arbitrary location; refuse to follow them.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg: cfg,
	}
}

// DetectStreaming applies the streaming heuristics: an Accept header naming
// an event-stream media type, or stream:true in the parsed body.
func DetectStreaming(accept string, body map[string]any) bool {
	if strings.Contains(accept, "text/event-stream") || strings.Contains(accept, "application/x-ndjson") {
		return true
	}
	if body != nil {
		if v, ok := body["stream"].(bool); ok {
			return v
		}
	}
	return false
}

// upstreamURL composes origin + path with merged query parameters; registry
// constants win ties with the caller's values.
func upstreamURL(req *Request) string {
	q := url.Values{}
	for k, vs := range req.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k, v := range req.Entry.ConstantQuery {
		q.Set(k, v)
	}

	u := req.Entry.Origin + req.Path
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// outboundHeaders builds the upstream header set: inbound minus the drop
// block, plus registry constants where absent, plus the credential header.
func outboundHeaders(req *Request) http.Header {
	out := make(http.Header)
	for k, vs := range req.Header {
		if isDropped(k, droppedRequestHeaders) {
			continue
		}
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	for k, v := range req.Entry.ConstantHeaders {
		if out.Get(k) == "" {
			out.Set(k, v)
		}
	}
	out.Set(req.Entry.AuthHeader, req.Entry.AuthValue(req.Credential.Key))
	return out
}

func isDropped(header string, block []string) bool {
	for _, d := range block {
		if strings.EqualFold(header, d) {
			return true
		}
	}
	return false
}

// retryable reports whether an attempt may be retried: transport errors
// always (nothing reached the client), 5xx only for idempotent methods.
func (f *Forwarder) retryable(method string, resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp.StatusCode < 500 {
		return false
	}
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Forward relays the request and writes the upstream response to w. The
// returned Outcome feeds usage accounting; a non-nil error means nothing was
// written to w and the caller should render an error envelope.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, req *Request) (*Outcome, error) {
	start := time.Now()
	targetURL := upstreamURL(req)
	headers := outboundHeaders(req)

	var resp *http.Response
	var stopTimeout func() bool

	attempts := f.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			// Linear backoff between attempts, abandoned on caller disconnect.
			select {
			case <-time.After(time.Duration(attempt-1) * f.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ErrUpstreamUnreachable
			}
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		timer := time.AfterFunc(f.cfg.RequestTimeout, cancel)

		httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, targetURL, bytes.NewReader(req.Body))
		if err != nil {
			timer.Stop()
			cancel()
			return nil, fmt.Errorf("failed to build upstream request: %w", err)
		}
		httpReq.Header = headers.Clone()
		httpReq.Host = req.Entry.Host()

		resp, err = f.client.Do(httpReq) //nolint:bodyclose // closed below or after piping
		if err != nil {
			timer.Stop()
			cancel()
			if ctx.Err() != nil {
				return nil, ErrUpstreamUnreachable
			}
			if attemptCtx.Err() != nil {
				lastErr = ErrUpstreamTimeout
			} else {
				lastErr = err
			}
			if attempt < attempts {
				continue
			}
			if errors.Is(lastErr, ErrUpstreamTimeout) {
				return nil, ErrUpstreamTimeout
			}
			var netErr net.Error
			if errors.As(lastErr, &netErr) && netErr.Timeout() {
				return nil, ErrUpstreamTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, lastErr)
		}

		if f.retryable(req.Method, resp, nil) && attempt < attempts {
			resp.Body.Close()
			timer.Stop()
			cancel()
			continue
		}

		// Committed to this response. The cancel func is deliberately left
		// to the response-body lifecycle below.
		stopTimeout = timer.Stop
		defer cancel()
		break
	}

	if resp == nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, lastErr)
	}
	defer resp.Body.Close()

	if req.Streaming {
		return f.relayStream(w, resp, stopTimeout, start)
	}
	return f.relayBuffered(w, resp, start)
}

// relayBuffered reads the full upstream body, then relays status, filtered
// headers, and body to the caller.
func (f *Forwarder) relayBuffered(w http.ResponseWriter, resp *http.Response, start time.Time) (*Outcome, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upstream body: %v", ErrUpstreamUnreachable, err)
	}

	copyResponseHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)

	return &Outcome{
		StatusCode:   resp.StatusCode,
		ResponseBody: body,
		Duration:     time.Since(start),
	}, nil
}

// relayStream flushes status and headers before the first body byte, then
// pipes chunks as they arrive. The per-attempt timeout stops once piping
// begins — a slow generation is not a timeout. Downstream write failures
// abort the upstream read via the deferred body close.
func (f *Forwarder) relayStream(w http.ResponseWriter, resp *http.Response, stopTimeout func() bool, start time.Time) (*Outcome, error) {
	if stopTimeout != nil {
		stopTimeout()
	}

	copyResponseHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	tail := newTailBuffer(streamTailBytes)
	buf := make([]byte, 32<<10)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			tail.Write(buf[:n])
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; the deferred resp.Body.Close() aborts
				// the upstream transfer.
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			// io.EOF is the normal stream end; anything else means the
			// upstream died mid-stream, which the client observes as a
			// truncated body.
			break
		}
	}

	return &Outcome{
		StatusCode:   resp.StatusCode,
		ResponseBody: tail.Bytes(),
		Streamed:     true,
		Duration:     time.Since(start),
	}, nil
}

func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for k, vs := range resp.Header {
		if isDropped(k, droppedResponseHeaders) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
}

// tailBuffer keeps the last capacity bytes written to it.
type tailBuffer struct {
	capacity int
	buf      []byte
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{capacity: capacity}
}

func (t *tailBuffer) Write(p []byte) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.capacity {
		t.buf = t.buf[len(t.buf)-t.capacity:]
	}
}

func (t *tailBuffer) Bytes() []byte { return t.buf }
