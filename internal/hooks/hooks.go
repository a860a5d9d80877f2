// Package hooks defines the fixed extension points a Forwarder invokes
// around each proxied request. The original implementation loaded hook
// modules dynamically by import path at startup; here hooks are ordinary Go
// values registered once at process wiring time, which gives the same
// request-shaping capability without runtime code loading.
package hooks

import "net/http"

// PathRewriter rewrites the outbound request path before it is forwarded to
// the chosen backend. Implementations must not mutate r in place.
type PathRewriter interface {
	RewritePath(r *http.Request) string
}

// RequestHook runs immediately before a request is forwarded upstream. It
// may mutate headers on r (e.g. to add tracing or identity headers) but must
// not read or replace the body.
type RequestHook interface {
	BeforeForward(r *http.Request)
}

// ResponseHook runs after an upstream response has been received, before it
// is written back to the client. It may mutate resp's header map.
type ResponseHook interface {
	AfterForward(resp *http.Response)
}

// PathRewriterFunc adapts a plain function to a PathRewriter.
type PathRewriterFunc func(r *http.Request) string

func (f PathRewriterFunc) RewritePath(r *http.Request) string { return f(r) }

// RequestHookFunc adapts a plain function to a RequestHook.
type RequestHookFunc func(r *http.Request)

func (f RequestHookFunc) BeforeForward(r *http.Request) { f(r) }

// ResponseHookFunc adapts a plain function to a ResponseHook.
type ResponseHookFunc func(resp *http.Response)

func (f ResponseHookFunc) AfterForward(resp *http.Response) { f(resp) }

// Chain holds the ordered set of hooks a Forwarder runs around every
// request. A nil chain runs no hooks.
type Chain struct {
	PathRewriter PathRewriter
	Request      []RequestHook
	Response     []ResponseHook
}

// RunRequest invokes every registered RequestHook in order. Safe to call on
// a nil *Chain.
func (c *Chain) RunRequest(r *http.Request) {
	if c == nil {
		return
	}
	for _, h := range c.Request {
		h.BeforeForward(r)
	}
}

// RunResponse invokes every registered ResponseHook in order. Safe to call
// on a nil *Chain.
func (c *Chain) RunResponse(resp *http.Response) {
	if c == nil {
		return
	}
	for _, h := range c.Response {
		h.AfterForward(resp)
	}
}

// Path resolves the outbound path for r, falling back to r.URL.Path when no
// PathRewriter is registered. Safe to call on a nil *Chain.
func (c *Chain) Path(r *http.Request) string {
	if c == nil || c.PathRewriter == nil {
		return r.URL.Path
	}
	return c.PathRewriter.RewritePath(r)
}
