package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ArCaneSec/watcher/internal/models"

	"github.com/charmbracelet/log"
)

const (
	PollTimeout  = 30 * time.Second
	MaxBodyBytes = 10 << 20
)

const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

type Poller struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

type PollerOption func(*Poller)

func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.timeout = d
	}
}

func WithUserAgent(ua string) PollerOption {
	return func(p *Poller) {
		p.userAgent = ua
	}
}

func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		timeout:   PollTimeout,
		userAgent: "watcher",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll fetches target.URL once. It never fails: transport problems are
// recorded on the returned check with no status or content. Any completed
// response counts, whatever its status, and carries the body and its
// fingerprint. ContentLength is the full body length even when the stored
// body is cut at MaxBodyBytes.
func (p *Poller) Poll(ctx context.Context, target models.WatchTarget) models.ContentCheck {
	start := time.Now()
	check := models.ContentCheck{
		TargetID:  target.ID,
		CheckedAt: start.UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fail := func(err error) models.ContentCheck {
		msg := err.Error()
		check.ErrorMessage = &msg
		check.IsSuccess = false
		check.ResponseTimeMs = elapsedMs(start)
		return check
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return fail(describe(ctx, err))
	}
	defer resp.Body.Close()

	// the whole body is fingerprinted and counted, only the first MaxBodyBytes are kept
	digest := newDigest()
	stream := io.TeeReader(resp.Body, digest)

	body, err := io.ReadAll(io.LimitReader(stream, MaxBodyBytes))
	if err != nil {
		return fail(fmt.Errorf("read body: %w", describe(ctx, err)))
	}
	rest, err := io.Copy(io.Discard, stream)
	if err != nil {
		return fail(fmt.Errorf("read body: %w", describe(ctx, err)))
	}

	status := resp.StatusCode
	check.StatusCode = &status
	check.ResponseTimeMs = elapsedMs(start)
	check.IsSuccess = status < http.StatusBadRequest

	text := sanitize(body)
	hash := digestHex(digest)
	length := len(body) + int(rest)
	check.ContentBody = &text
	check.ContentHash = &hash
	check.ContentLength = &length

	if rest > 0 {
		log.Debug("Body exceeds storage cap, keeping a prefix.", "target_id", target.ID, "length", length)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		check.ContentType = &ct
	}

	return check
}

func (p *Poller) Close() {
	if t, ok := p.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

func describe(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("timeout: %w", err)
	}
	return err
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// sanitize makes body storable as text: invalid utf-8 is replaced and NULs dropped.
func sanitize(body []byte) string {
	s := string(body)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
