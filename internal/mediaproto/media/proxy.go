package media

import (
	"context"
	"sync"
)

// Resolver looks up the full catalog row for an identifier, used by
// Proxy to resolve on first non-title access.
type Resolver interface {
	Lookup(ctx context.Context, id string) (*Media, error)
}

// Proxy carries only (id, title) until a content-bearing field is
// requested, at which point it resolves through the catalog exactly once
// and delegates to the resolved handle forever after.
//
// Resolution is memoised per proxy instance via sync.Once: concurrent
// first-call resolution is serialised rather than raced, so at most one
// catalog fetch happens per proxy and the stored handle is stable.
type Proxy struct {
	id    string
	title string

	resolver Resolver
	once     sync.Once
	resolved *Media
	err      error
}

// NewProxy constructs a Proxy carrying only (id, title).
func NewProxy(id, title string, resolver Resolver) *Proxy {
	return &Proxy{id: id, title: title, resolver: resolver}
}

// ID returns the identifier without triggering resolution.
func (p *Proxy) ID() string { return p.id }

// Title returns the title without triggering resolution.
func (p *Proxy) Title() string { return p.title }

// Resolve fetches and memoises the full Media handle on first call.
func (p *Proxy) Resolve(ctx context.Context) (*Media, error) {
	p.once.Do(func() {
		p.resolved, p.err = p.resolver.Lookup(ctx, p.id)
	})
	return p.resolved, p.err
}

// DurationSecs resolves the proxy and returns the duration.
func (p *Proxy) DurationSecs(ctx context.Context) (int, error) {
	m, err := p.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	return m.DurationSecs, nil
}

// FetchVideoClips resolves the proxy and delegates to the resolved handle.
func (p *Proxy) FetchVideoClips(ctx context.Context, offset, n int) ([][]byte, error) {
	m, err := p.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return m.FetchVideoClips(ctx, offset, n)
}

// FetchAudioClips resolves the proxy and delegates to the resolved handle.
func (p *Proxy) FetchAudioClips(ctx context.Context, offset, n int) ([][]byte, error) {
	m, err := p.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return m.FetchAudioClips(ctx, offset, n)
}

// Equal compares two proxies by id, and by full attributes once both have
// resolved.
func (p *Proxy) Equal(other *Proxy) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.id != other.id {
		return false
	}
	if p.resolved != nil && other.resolved != nil {
		return p.resolved.Equal(other.resolved)
	}
	return true
}
