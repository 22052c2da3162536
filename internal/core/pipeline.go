package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"proximg/internal/pkg/logger"
	"proximg/internal/policy"
)

// DefaultMaxContentLength is the declared Content-Length cap (5 MiB).
const DefaultMaxContentLength int64 = 5 << 20

// redirectDrainLimit bounds how much of a redirect body is read so the
// connection can be reused.
const redirectDrainLimit = 4 << 10

var errHopTimeout = errors.New("hop timeout")

// HostFilter decides whether a host may be fetched.
type HostFilter interface {
	Decide(host string) policy.Decision
}

// dialController is implemented by filters that can also guard resolved
// addresses at connect time.
type dialController interface {
	DialControl(network, address string, c syscall.RawConn) error
}

// Options configures a Pipeline.
type Options struct {
	Identity         string
	MaxRedirects     int
	MaxContentLength int64
	// HopTimeout bounds connect plus waiting for response headers on each
	// hop. Zero disables it.
	HopTimeout time.Duration
	// EnforceStreamedLimit also caps the bytes actually streamed, not just
	// the declared Content-Length.
	EnforceStreamedLimit bool
}

// Pipeline fetches images upstream on behalf of clients.
type Pipeline struct {
	opts       Options
	filter     HostFilter
	client     *http.Client
	processors []Processor
	log        *zap.Logger
}

// NewPipeline creates a pipeline. Hosts are checked with filter before
// every hop; if filter also implements DialControl it guards every
// outgoing connection.
func NewPipeline(filter HostFilter, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Identity == "" {
		opts.Identity = DefaultIdentity()
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if dc, ok := filter.(dialController); ok {
		dialer.Control = dc.DialControl
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	// Bodies and Content-Encoding are passed through untouched.
	transport.DisableCompression = true

	return &Pipeline{
		opts:   opts,
		filter: filter,
		log:    log,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		processors: make([]Processor, 0),
	}
}

// Identity returns the Via/User-Agent value of this proxy.
func (p *Pipeline) Identity() string {
	return p.opts.Identity
}

// AddProcessor registers a processor. Processors run in priority order.
func (p *Pipeline) AddProcessor(processor Processor) {
	p.processors = append(p.processors, processor)
	sort.SliceStable(p.processors, func(i, j int) bool {
		return p.processors[i].Priority() < p.processors[j].Priority()
	})
}

// NewRequestContext prepares the context for one inbound request.
func (p *Pipeline) NewRequestContext(r *http.Request, w http.ResponseWriter, target string) *RequestContext {
	rc := NewRequestContext(r.Context(), w, nil)
	rc.Log = logger.ForRequest(p.log, rc.RequestID, target)
	rc.Header = OutboundHeaders(p.opts.Identity, r.Header)
	rc.Budget = p.opts.MaxRedirects
	return rc
}

// Fetch runs the redirect loop for rawTarget. On rejection the client gets
// a 404 and the *Rejection is returned. Any other error means the response
// was already started when streaming failed.
func (p *Pipeline) Fetch(rc *RequestContext, rawTarget string) (err error) {
	defer func() { p.finish(rc, err) }()

	target, rej := ParseTarget(rawTarget)
	if rej != nil {
		return rc.Abort(rej)
	}

	for _, processor := range p.processors {
		if err := processor.OnRequest(rc, target); err != nil {
			if rej, ok := AsRejection(err); ok {
				return rc.Abort(rej)
			}
			return rc.Abort(&Rejection{Reason: ReasonExcludedHost, Detail: processor.Name(), Err: err})
		}
	}

	for {
		next, err := p.hop(rc, target)
		if err != nil {
			if rej, ok := AsRejection(err); ok {
				return rc.Abort(rej)
			}
			return err
		}
		if next == nil {
			return nil
		}
		target = next
	}
}

// Reject answers rc with rej without fetching anything. Processors see it
// as a finished request.
func (p *Pipeline) Reject(rc *RequestContext, rej *Rejection) error {
	err := rc.Abort(rej)
	p.finish(rc, err)
	return err
}

func (p *Pipeline) finish(rc *RequestContext, err error) {
	for _, processor := range p.processors {
		processor.OnFinish(rc, err)
	}
}

// hop performs one upstream GET. It returns the next target on redirect,
// or nil once the client response is complete.
func (p *Pipeline) hop(rc *RequestContext, target *url.URL) (*url.URL, error) {
	if d := p.filter.Decide(target.Host); !d.Allowed {
		return nil, NewRejection(ReasonExcludedHost, d.Reason)
	}

	ctx, cancel := context.WithCancelCause(rc)
	defer cancel(nil)

	var timer *time.Timer
	if p.opts.HopTimeout > 0 {
		timer = time.AfterFunc(p.opts.HopTimeout, func() { cancel(errHopTimeout) })
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &Rejection{Reason: ReasonExcludedHost, Detail: "invalid target", Err: err}
	}
	req.Header = rc.Header.Clone()
	req.Host = target.Host

	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stop()

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.transportError(ctx, err)
	}
	defer resp.Body.Close()

	hop := Hop{
		Index:     len(rc.hops) + 1,
		URL:       target.String(),
		Status:    resp.StatusCode,
		Remaining: rc.Budget,
		Elapsed:   time.Since(started),
	}
	rc.recordHop(hop)
	for _, processor := range p.processors {
		processor.OnHop(rc, hop)
	}

	return p.handle(rc, target, resp, stop)
}

// handle dispatches on the response. stop ends the hop timer; until it is
// called the hop timeout still applies, so image bodies call it before
// streaming while redirect bodies are drained under the timer.
func (p *Pipeline) handle(rc *RequestContext, target *url.URL, resp *http.Response, stop func()) (*url.URL, error) {
	if p.declaredTooLarge(resp) {
		return nil, NewRejection(ReasonContentLengthExceeded, resp.Header.Get("Content-Length"))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		ct := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(strings.ToLower(ct), "image") {
			return nil, NewRejection(ReasonNonImageContentType, ct)
		}
		stop()
		rc.writeHeader(http.StatusOK, responseHeaders(resp))
		// Send the status line now so slow bodies do not hold it back.
		http.NewResponseController(rc.Sink).Flush()
		return nil, p.stream(rc, resp.Body)

	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		if rc.Budget <= 0 {
			return nil, NewRejection(ReasonRedirectDepthExceeded, "")
		}
		location := resp.Header.Get("Location")
		next, rej := ResolveLocation(target, location)
		if rej != nil {
			if rej.Reason == ReasonUnexpectedStatus {
				rej.Status = resp.StatusCode
			}
			return nil, rej
		}
		rc.Budget--
		io.Copy(io.Discard, io.LimitReader(resp.Body, redirectDrainLimit))
		stop()
		rc.Log.Debug("following redirect",
			zap.Int("status", resp.StatusCode),
			zap.String("location", next.String()),
			zap.Int("remaining", rc.Budget),
		)
		return next, nil

	case http.StatusNotModified:
		stop()
		rc.writeHeader(http.StatusNotModified, responseHeaders(resp))
		return nil, nil

	default:
		return nil, &Rejection{Reason: ReasonUnexpectedStatus, Status: resp.StatusCode}
	}
}

// declaredTooLarge checks only the declared Content-Length.
func (p *Pipeline) declaredTooLarge(resp *http.Response) bool {
	if resp.ContentLength > p.opts.MaxContentLength {
		return true
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return false
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	return err == nil && n > p.opts.MaxContentLength
}

func (p *Pipeline) stream(rc *RequestContext, body io.Reader) error {
	if !p.opts.EnforceStreamedLimit {
		if _, err := io.Copy(rc.Sink, body); err != nil {
			rc.Log.Warn("streaming upstream body failed", zap.Error(err))
			return fmt.Errorf("stream upstream body: %w", err)
		}
		return nil
	}

	n, err := io.CopyN(rc.Sink, body, p.opts.MaxContentLength)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		rc.Log.Warn("streaming upstream body failed", zap.Error(err), zap.Int64("bytes", n))
		return fmt.Errorf("stream upstream body: %w", err)
	}

	var probe [1]byte
	if k, _ := io.ReadAtLeast(body, probe[:], 1); k > 0 {
		rc.Log.Warn("upstream body exceeded content length limit",
			zap.Int64("limit", p.opts.MaxContentLength),
		)
		return ErrStreamLimitExceeded
	}
	return nil
}

func (p *Pipeline) transportError(ctx context.Context, err error) error {
	if errors.Is(err, policy.ErrRestrictedAddress) {
		return &Rejection{Reason: ReasonExcludedHost, Detail: "restricted address", Err: err}
	}
	if errors.Is(context.Cause(ctx), errHopTimeout) {
		return &Rejection{
			Reason: ReasonUpstreamUnreachable,
			Detail: fmt.Sprintf("timed out after %s", p.opts.HopTimeout),
			Err:    err,
		}
	}
	return &Rejection{Reason: ReasonUpstreamUnreachable, Err: err}
}
