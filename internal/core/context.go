package core

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestContext carries the state of one client request through every
// hop of the pipeline. It is owned by the request goroutine and is not
// safe for concurrent use.
type RequestContext struct {
	context.Context
	RequestID string
	StartTime time.Time
	Log       *zap.Logger

	// Header is sent unchanged on every upstream hop.
	Header http.Header
	// Budget is the number of redirects still allowed.
	Budget int
	// Sink receives the client response.
	Sink http.ResponseWriter

	hops      []Hop
	finalized bool
	status    int
}

// NewRequestContext creates a RequestContext bound to ctx, which should be
// the inbound request context so client disconnects cancel upstream work.
func NewRequestContext(ctx context.Context, sink http.ResponseWriter, logger *zap.Logger) *RequestContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestContext{
		Context:   ctx,
		RequestID: uuid.NewString(),
		StartTime: time.Now(),
		Log:       logger,
		Header:    make(http.Header),
		Sink:      sink,
	}
}

// Hops returns the hops performed so far.
func (c *RequestContext) Hops() []Hop {
	return c.hops
}

// Finalized reports whether the client response status has been written.
func (c *RequestContext) Finalized() bool {
	return c.finalized
}

// Status returns the status written to the client, or 0.
func (c *RequestContext) Status() int {
	return c.status
}

// Abort finalizes the client response with a 404 carrying the rejection
// message and returns rej. It does nothing to the sink if the response
// was already finalized.
func (c *RequestContext) Abort(rej *Rejection) error {
	if c.finalized {
		return rej
	}
	c.finalized = true
	c.status = http.StatusNotFound

	h := c.Sink.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	c.Sink.WriteHeader(http.StatusNotFound)
	c.Sink.Write([]byte(rej.Error()))
	return rej
}

// writeHeader copies header into the sink and writes status once.
func (c *RequestContext) writeHeader(status int, header http.Header) bool {
	if c.finalized {
		return false
	}
	c.finalized = true
	c.status = status

	dst := c.Sink.Header()
	for k, vs := range header {
		dst[k] = vs
	}
	c.Sink.WriteHeader(status)
	return true
}

func (c *RequestContext) recordHop(hop Hop) {
	c.hops = append(c.hops, hop)
}
