package core

import (
	"net/url"
	"time"
)

// Hop describes one upstream GET within a request's redirect chain.
type Hop struct {
	Index     int
	URL       string
	Status    int
	Remaining int
	Elapsed   time.Duration
}

// Processor observes requests flowing through the pipeline
type Processor interface {
	// Name returns the processor name
	Name() string
	// Priority returns the execution priority (lower = earlier)
	Priority() int
	// OnRequest is called once before the first hop; an error rejects the request
	OnRequest(ctx *RequestContext, target *url.URL) error
	// OnHop is called after each upstream response's headers arrive
	OnHop(ctx *RequestContext, hop Hop)
	// OnFinish is called exactly once when the request is done
	OnFinish(ctx *RequestContext, err error)
}
