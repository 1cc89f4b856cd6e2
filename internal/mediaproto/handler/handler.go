// Package handler implements the request handler: it turns one parsed
// request into one written response on a bound socket. Instances are
// reusable across requests (state is rebound via setters before each
// use), so the connection pool can recycle a small number of handlers
// across many sockets instead of allocating one per connection.
package handler

import (
	"context"
	"net"
	"regexp"
	"time"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
	"github.com/alxayo/mediasrv/internal/logger"
	"github.com/alxayo/mediasrv/internal/mediaproto/media"
	"github.com/alxayo/mediasrv/internal/mediaproto/request"
	"github.com/alxayo/mediasrv/internal/mediaproto/wire"
)

// Catalog is the subset of the media catalog a handler needs: the fast
// brief-listing path for LIST and the point lookup for INFO and FETCH.
type Catalog interface {
	ListBrief(ctx context.Context) ([]*media.Proxy, error)
	Lookup(ctx context.Context, id string) (*media.Media, error)
}

// RunStatus is the outcome a handler reports to its completion callback,
// consumed by the connection pool's recycle-vs-close policy.
type RunStatus int

const (
	RunSuccess RunStatus = iota
	RunException
)

// Result is what Run returns: the outcome plus, for RunException, the
// underlying cause the pool uses to distinguish a benign idle-read
// timeout from a fatal I/O or protocol error.
type Result struct {
	Status RunStatus
	Err    error
}

// Timeouts collects the framer deadlines a handler applies per request:
// the header and body read deadlines plus a symmetric write deadline.
type Timeouts struct {
	HeaderRead time.Duration
	BodyRead   time.Duration
	Write      time.Duration
}

// Handler processes one request per Run call. It carries no mutable
// protocol state between runs beyond the rebindable dependencies, so the
// same instance may be handed from one socket to an unrelated one
// between runs as long as the pool rebinds Conn and Parser first.
type Handler struct {
	framer    *wire.Framer
	validator *request.Validator
	timeouts  Timeouts

	catalog Catalog
	conn    net.Conn
	parser  *request.Parser
}

// New constructs a Handler around the given framer and timeouts. Catalog,
// Conn, and Parser are bound separately via the setters below.
func New(framer *wire.Framer, timeouts Timeouts) *Handler {
	return &Handler{
		framer:    framer,
		validator: request.NewValidator(),
		timeouts:  timeouts,
	}
}

// SetCatalog binds the catalog this handler dispatches requests against.
func (h *Handler) SetCatalog(catalog Catalog) { h.catalog = catalog }

// Rebind binds a new socket and parser before the handler is submitted
// for another request, the explicit rebind the pool performs between
// runs.
func (h *Handler) Rebind(conn net.Conn, parser *request.Parser) {
	h.conn = conn
	h.parser = parser
}

// Conn exposes the currently bound socket, used by the pool to close it on
// a non-keep-alive outcome.
func (h *Handler) Conn() net.Conn { return h.conn }

// Run reads one request, dispatches it, and writes one response.
//
// Framing errors before a request is parsed end the run with
// RunException and no response is written. Framer.Extract either returns
// a complete Message or an error with no partial parse state, so every
// extract failure falls in that no-response case.
//
// Every error raised after a request was successfully parsed is
// converted to a status-coded response and written; as long as the write
// succeeds the run reports RunSuccess, keeping the connection alive even
// though the peer received BAD_REQUEST or SERVER_ERROR.
func (h *Handler) Run(ctx context.Context) Result {
	log := logger.Logger()

	msg, err := h.framer.Extract(h.conn, h.timeouts.HeaderRead, h.timeouts.BodyRead)
	if err != nil {
		return Result{Status: RunException, Err: err}
	}

	h.parser.Feed(msg)
	status, bodyType, body, procErr := h.dispatch(ctx)
	if procErr != nil {
		log.Debug("request failed", "status", string(status), "error", procErr)
	}

	if err := h.framer.Write(h.conn, status, bodyType, body, h.timeouts.Write); err != nil {
		return Result{Status: RunException, Err: err}
	}
	return Result{Status: RunSuccess}
}

// dispatch validates and routes the fed request by verb, returning the
// status/body to write and, separately, the error that determined that
// status (nil on success).
func (h *Handler) dispatch(ctx context.Context) (wire.Status, wire.BodyType, []byte, error) {
	verb, err := h.parser.Verb()
	if err != nil {
		return wire.StatusBadRequest, "", nil, err
	}

	var (
		bodyType wire.BodyType
		body     []byte
	)
	switch verb {
	case wire.VerbList:
		body, err = h.handleList(ctx)
		bodyType = wire.BodyTypeMediaList
	case wire.VerbInfo:
		body, err = h.handleInfo(ctx)
		bodyType = wire.BodyTypeMediaInfo
	case wire.VerbFetch:
		body, err = h.handleFetch(ctx)
		bodyType = wire.BodyTypeFetchedClips
	default:
		err = protoerrors.NewUnknownVerbError(string(verb))
	}

	if err == nil {
		return wire.StatusOK, bodyType, body, nil
	}
	return statusFor(err), "", nil, err
}

// statusFor maps an error kind to the response status: shape,
// validation, and lookup-miss errors become BAD_REQUEST; catalog/storage
// I/O failures become SERVER_ERROR; anything unclassified is treated
// conservatively as a server fault rather than leaking detail to the peer.
func statusFor(err error) wire.Status {
	if protoerrors.IsClientFault(err) {
		return wire.StatusBadRequest
	}
	return wire.StatusServerError
}

// handleList walks the brief listing, filtering titles by the mandatory
// title-contains regex.
func (h *Handler) handleList(ctx context.Context) ([]byte, error) {
	pattern, err := h.parser.Field("title-contains")
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, protoerrors.NewBadRequestError("handler.list.compileRegex", err)
	}

	proxies, err := h.catalog.ListBrief(ctx)
	if err != nil {
		return nil, err
	}

	var ids, titles []string
	for _, p := range proxies {
		if re.MatchString(p.Title()) {
			ids = append(ids, p.ID())
			titles = append(titles, p.Title())
		}
	}
	return wire.EncodeMediaList(ids, titles), nil
}

// handleInfo validates the id, looks it up, and encodes a MediaInfo body;
// a nil lookup yields BAD_REQUEST.
func (h *Handler) handleInfo(ctx context.Context) ([]byte, error) {
	id, err := h.parser.Field("media-id")
	if err != nil {
		return nil, err
	}
	if err := h.validator.HexID(id); err != nil {
		return nil, err
	}

	m, err := h.catalog.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, protoerrors.NewBadRequestError("handler.info.lookup", nil)
	}

	info := wire.MediaInfo{
		ID:            m.ID,
		Title:         m.Title,
		DurationSecs:  m.DurationSecs,
		ContainerName: m.ContainerName,
	}
	if m.Video != nil {
		info.VideoWidth = m.Video.Width
		info.VideoHeight = m.Video.Height
		info.VideoCodec = m.Video.Codec
	}
	if m.Audio != nil {
		info.AudioCodec = m.Audio.Codec
	}
	return wire.EncodeMediaInfo(info), nil
}

// handleFetch validates id/offset/amount, looks up the media, reads the
// requested clip ranges, and encodes a FetchedClips body.
func (h *Handler) handleFetch(ctx context.Context) ([]byte, error) {
	id, err := h.parser.Field("media-id")
	if err != nil {
		return nil, err
	}
	if err := h.validator.HexID(id); err != nil {
		return nil, err
	}

	offsetStr, err := h.parser.Field("starting-playback-piece")
	if err != nil {
		return nil, err
	}
	offset, err := h.validator.NonNegativeInt(offsetStr)
	if err != nil {
		return nil, err
	}

	amountStr, err := h.parser.Field("total-playback-pieces")
	if err != nil {
		return nil, err
	}
	amount, err := h.validator.PositiveInt(amountStr)
	if err != nil {
		return nil, err
	}

	m, err := h.catalog.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, protoerrors.NewBadRequestError("handler.fetch.lookup", nil)
	}

	video, err := m.FetchVideoClips(ctx, offset, amount)
	if err != nil {
		return nil, err
	}
	audio, err := m.FetchAudioClips(ctx, offset, amount)
	if err != nil {
		return nil, err
	}

	return wire.EncodeFetchedClips(wire.ClipBatch{
		MediaID: id,
		Offset:  offset,
		Video:   video,
		Audio:   audio,
	}), nil
}
