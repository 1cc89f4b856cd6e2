// Package request extracts and validates the verb and named fields of a
// parsed wire message.
package request

import (
	protoerrors "github.com/alxayo/mediasrv/internal/errors"
	"github.com/alxayo/mediasrv/internal/mediaproto/wire"
)

// Parser admits a fresh request message and exposes its verb and fields.
// A Parser instance is reused across requests on the same connection but
// never shared concurrently across connections: the Factory hands out a
// fresh instance per handler so concurrent handlers never share state.
type Parser struct {
	msg *wire.Message
}

// NewParser constructs an empty, unfed Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Factory hands out fresh, independent Parser instances.
type Factory struct{}

// NewFactory constructs a Factory.
func NewFactory() *Factory { return &Factory{} }

// New returns a fresh Parser instance.
func (Factory) New() *Parser { return NewParser() }

// Feed admits a fresh request message, discarding any previously fed state.
func (p *Parser) Feed(msg *wire.Message) {
	p.msg = msg
}

// Verb returns the request-type of the currently fed message. Fails with
// UnknownVerbError if the first line does not match the grammar.
func (p *Parser) Verb() (wire.Verb, error) {
	if p.msg == nil {
		return "", protoerrors.NewUnknownVerbError("")
	}
	first, ok := p.msg.First()
	if !ok || first.Key != "request-type" {
		got := ""
		if ok {
			got = first.Key
		}
		return "", protoerrors.NewUnknownVerbError(got)
	}
	switch wire.Verb(first.Value) {
	case wire.VerbList, wire.VerbInfo, wire.VerbFetch:
		return wire.Verb(first.Value), nil
	default:
		return "", protoerrors.NewUnknownVerbError(first.Value)
	}
}

// Field returns the named header field. Fails with UnknownFieldError if
// the name is absent from the request.
func (p *Parser) Field(name string) (string, error) {
	if p.msg == nil {
		return "", protoerrors.NewUnknownFieldError(name)
	}
	v, ok := p.msg.Get(name)
	if !ok {
		return "", protoerrors.NewUnknownFieldError(name)
	}
	return v, nil
}
