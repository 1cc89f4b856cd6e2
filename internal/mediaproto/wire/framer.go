package wire

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/alxayo/mediasrv/internal/bufpool"
	protoerrors "github.com/alxayo/mediasrv/internal/errors"
)

// HeaderCap is the maximum number of header bytes accepted before the
// terminator line is required to appear.
const HeaderCap = 8192

const headerTerminator = "\n\n"

// Framer reads one complete request message from a connection and writes
// one complete response message.
type Framer struct {
	pool *bufpool.Pool
}

// NewFramer constructs a Framer backed by the given buffer pool. A nil pool
// falls back to the shared process-wide pool.
func NewFramer(pool *bufpool.Pool) *Framer {
	if pool == nil {
		pool = bufpool.Default()
	}
	return &Framer{pool: pool}
}

// Extract reads bytes from conn until the header terminator is seen, parses
// body-length, then reads exactly that many additional body bytes. The
// per-read deadline is recomputed after every successful read, so timeout
// models idle time rather than total elapsed time.
func (f *Framer) Extract(conn net.Conn, headerTimeout, bodyTimeout time.Duration) (*Message, error) {
	header, leftover, err := f.readHeader(conn, headerTimeout)
	if err != nil {
		return nil, err
	}

	lines, bodyLen, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	body, err := f.readBody(conn, bodyTimeout, bodyLen, leftover)
	if err != nil {
		return nil, err
	}

	return &Message{Lines: lines, Body: body}, nil
}

// readHeader accumulates bytes up to and including the "\n\n" terminator,
// returning the header bytes (without the terminator) and any body bytes
// that arrived in the same read as the terminator.
func (f *Framer) readHeader(conn net.Conn, timeout time.Duration) (header []byte, leftover []byte, err error) {
	scratch := f.pool.HeaderScratch()
	defer f.pool.Release(scratch)

	acc := make([]byte, 0, 512)
	for {
		if timeout > 0 {
			if dlErr := conn.SetReadDeadline(time.Now().Add(timeout)); dlErr != nil {
				return nil, nil, protoerrors.NewProtocolMalformedError("framer.setReadDeadline", dlErr)
			}
		}
		n, rerr := conn.Read(scratch)
		if n > 0 {
			acc = append(acc, scratch[:n]...)
			if idx := bytes.Index(acc, []byte(headerTerminator)); idx >= 0 {
				return acc[:idx], acc[idx+len(headerTerminator):], nil
			}
			if len(acc) > HeaderCap {
				return nil, nil, protoerrors.NewProtocolMalformedError("framer.readHeader", nil)
			}
		}
		if rerr != nil {
			if isTimeoutErr(rerr) {
				return nil, nil, protoerrors.NewDeadlineElapsedError("framer.readHeader", timeout, rerr)
			}
			if isEOF(rerr) {
				return nil, nil, protoerrors.NewPeerClosedError("framer.readHeader")
			}
			return nil, nil, protoerrors.NewProtocolMalformedError("framer.readHeader", rerr)
		}
	}
}

// readBody returns exactly bodyLen bytes, starting from any leftover bytes
// already read past the header terminator.
func (f *Framer) readBody(conn net.Conn, timeout time.Duration, bodyLen int, leftover []byte) ([]byte, error) {
	body := make([]byte, 0, bodyLen)
	if len(leftover) > bodyLen {
		leftover = leftover[:bodyLen]
	}
	body = append(body, leftover...)
	if len(body) >= bodyLen {
		return body[:bodyLen], nil
	}

	scratch := f.pool.Chunk()
	defer f.pool.Release(scratch)

	for len(body) < bodyLen {
		if timeout > 0 {
			if dlErr := conn.SetReadDeadline(time.Now().Add(timeout)); dlErr != nil {
				return nil, protoerrors.NewProtocolMalformedError("framer.setReadDeadline", dlErr)
			}
		}
		want := bodyLen - len(body)
		if want > len(scratch) {
			want = len(scratch)
		}
		n, rerr := conn.Read(scratch[:want])
		if n > 0 {
			body = append(body, scratch[:n]...)
		}
		if rerr != nil {
			if isTimeoutErr(rerr) {
				return nil, protoerrors.NewDeadlineElapsedError("framer.readBody", timeout, rerr)
			}
			if isEOF(rerr) {
				return nil, protoerrors.NewPeerClosedError("framer.readBody")
			}
			return nil, protoerrors.NewProtocolMalformedError("framer.readBody", rerr)
		}
	}
	return body, nil
}

// parseHeader splits header bytes into ordered key/value lines and resolves
// the mandatory body-length field.
func parseHeader(header []byte) ([]HeaderLine, int, error) {
	text := string(header)
	var lines []HeaderLine
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, "\r")
		if raw == "" {
			continue
		}
		sp := strings.IndexByte(raw, ' ')
		if sp < 0 {
			return nil, 0, protoerrors.NewProtocolMalformedError("framer.parseHeader", nil)
		}
		lines = append(lines, HeaderLine{Key: raw[:sp], Value: raw[sp+1:]})
	}

	bodyLenStr, ok := find(lines, "body-length")
	if !ok {
		return nil, 0, protoerrors.NewProtocolMalformedError("framer.parseHeader", nil)
	}
	bodyLen, err := strconv.Atoi(bodyLenStr)
	if err != nil || bodyLen < 0 {
		return nil, 0, protoerrors.NewProtocolMalformedError("framer.parseHeader", err)
	}
	return lines, bodyLen, nil
}

func find(lines []HeaderLine, key string) (string, bool) {
	for _, l := range lines {
		if l.Key == key {
			return l.Value, true
		}
	}
	return "", false
}

// Write composes header lines in the fixed order (response-type, optional
// serialized-object, body-length), a blank line, then the body, assembled
// into a pooled stage and emitted with one logical Write call. Responses
// larger than the stage reallocate through append; the oversized buffer is
// simply not pooled afterwards.
func (f *Framer) Write(conn net.Conn, status Status, bodyType BodyType, body []byte, timeout time.Duration) error {
	stage := f.pool.Stage()
	defer f.pool.Release(stage)

	msg := append(stage[:0], "response-type "...)
	msg = append(msg, string(status)...)
	msg = append(msg, '\n')
	if status == StatusOK && bodyType != "" {
		msg = append(msg, "serialized-object "...)
		msg = append(msg, string(bodyType)...)
		msg = append(msg, '\n')
	}
	msg = append(msg, "body-length "...)
	msg = strconv.AppendInt(msg, int64(len(body)), 10)
	msg = append(msg, "\n\n"...)
	msg = append(msg, body...)

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return protoerrors.NewProtocolMalformedError("framer.setWriteDeadline", err)
		}
	}
	if _, err := conn.Write(msg); err != nil {
		if isTimeoutErr(err) {
			return protoerrors.NewDeadlineElapsedError("framer.write", timeout, err)
		}
		return protoerrors.NewPeerClosedError("framer.write")
	}
	return nil
}

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
