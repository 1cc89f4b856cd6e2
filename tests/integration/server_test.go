// Package integration exercises the full request/response lifecycle over
// real TCP sockets against a running server.
package integration

import (
	"bufio"
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alxayo/mediasrv/internal/mediaproto/blobstore/fsblob"
	"github.com/alxayo/mediasrv/internal/mediaproto/catalog"
	"github.com/alxayo/mediasrv/internal/mediaproto/server"
	"github.com/alxayo/mediasrv/internal/mediaproto/wire"

	_ "modernc.org/sqlite"
)

type testServer struct {
	srv  *server.Server
	addr string
}

func startTestServer(t *testing.T, cfg server.Config) *testServer {
	t.Helper()

	blobDir := t.TempDir()
	store := fsblob.New(blobDir)
	for _, clip := range []string{"v2", "v3", "v4", "a2", "a3", "a4"} {
		if err := store.PutBlob("01", clip, []byte("data:"+clip)); err != nil {
			t.Fatalf("seed blob %s: %v", clip, err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cat, err := catalog.New(db, store, catalog.Config{LRUSize: 64})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	if err := cat.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	_, err = db.Exec(`INSERT INTO media (id, title, duration_secs, container_name, content_locator) VALUES
		('01', 'alpha', 10, 'mp4', 'loc1'),
		('02', 'beta', 20, 'mp4', 'loc2'),
		('03', 'gamma', 30, 'mp4', 'loc3')`)
	if err != nil {
		t.Fatalf("seed media: %v", err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	srv := server.New(cfg, cat)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testServer{srv: srv, addr: srv.Addr().String()}
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ts.addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, verb wire.Verb, fields map[string]string) {
	t.Helper()
	header := fmt.Sprintf("request-type %s\n", verb)
	for k, v := range fields {
		header += fmt.Sprintf("%s %s\n", k, v)
	}
	header += "body-length 0\n\n"
	if _, err := conn.Write([]byte(header)); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

type response struct {
	status wire.Status
	body   []byte
}

func readResponse(t *testing.T, conn net.Conn) response {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)

	var status wire.Status
	bodyLen := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read response header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			t.Fatalf("malformed header line %q", line)
		}
		key, value := line[:sp], line[sp+1:]
		switch key {
		case "response-type":
			status = wire.Status(value)
		case "body-length":
			n, err := strconv.Atoi(value)
			if err != nil {
				t.Fatalf("bad body-length %q: %v", value, err)
			}
			bodyLen = n
		}
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := readFull(r, body); err != nil {
			t.Fatalf("read response body: %v", err)
		}
	}
	return response{status: status, body: body}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func TestListAll(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbList, map[string]string{"title-contains": ".*"})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusOK {
		t.Fatalf("expected OK, got %s", resp.status)
	}
	ids, titles, err := wire.DecodeMediaList(resp.body)
	if err != nil {
		t.Fatalf("DecodeMediaList: %v", err)
	}
	if want := []string{"01", "02", "03"}; !equalStrings(ids, want) {
		t.Fatalf("expected ids %v, got %v", want, ids)
	}
	if want := []string{"alpha", "beta", "gamma"}; !equalStrings(titles, want) {
		t.Fatalf("expected titles %v, got %v", want, titles)
	}
}

func TestListFiltered(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbList, map[string]string{"title-contains": "^b"})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusOK {
		t.Fatalf("expected OK, got %s", resp.status)
	}
	ids, titles, err := wire.DecodeMediaList(resp.body)
	if err != nil {
		t.Fatalf("DecodeMediaList: %v", err)
	}
	if want := []string{"02"}; !equalStrings(ids, want) {
		t.Fatalf("expected ids %v, got %v", want, ids)
	}
	if want := []string{"beta"}; !equalStrings(titles, want) {
		t.Fatalf("expected titles %v, got %v", want, titles)
	}
}

func TestInfoMissing(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbInfo, map[string]string{"media-id": "ab"})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusBadRequest {
		t.Fatalf("expected BAD_REQUEST, got %s", resp.status)
	}
	if len(resp.body) != 0 {
		t.Fatalf("expected empty body, got %d bytes", len(resp.body))
	}
}

func TestInfoMalformedID(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbInfo, map[string]string{"media-id": "xx"})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusBadRequest {
		t.Fatalf("expected BAD_REQUEST, got %s", resp.status)
	}

	// the socket remains open: a second request on the same connection succeeds.
	sendRequest(t, conn, wire.VerbList, map[string]string{"title-contains": "alpha"})
	resp2 := readResponse(t, conn)
	if resp2.status != wire.StatusOK {
		t.Fatalf("expected the connection to stay alive after BAD_REQUEST, got %s", resp2.status)
	}
}

func TestFetchNormal(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbFetch, map[string]string{
		"media-id":                "01",
		"starting-playback-piece": "2",
		"total-playback-pieces":   "3",
	})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusOK {
		t.Fatalf("expected OK, got %s", resp.status)
	}
	batch, err := wire.DecodeFetchedClips(resp.body)
	if err != nil {
		t.Fatalf("DecodeFetchedClips: %v", err)
	}
	if batch.MediaID != "01" || batch.Offset != 2 {
		t.Fatalf("unexpected batch header: %+v", batch)
	}
	wantVideo := [][]byte{[]byte("data:v2"), []byte("data:v3"), []byte("data:v4")}
	for i, v := range wantVideo {
		if string(batch.Video[i]) != string(v) {
			t.Fatalf("video[%d] = %q, want %q", i, batch.Video[i], v)
		}
	}
}

func TestFetchOutOfRange(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbFetch, map[string]string{
		"media-id":                "01",
		"starting-playback-piece": "9",
		"total-playback-pieces":   "5",
	})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusBadRequest {
		t.Fatalf("expected BAD_REQUEST, got %s", resp.status)
	}
}

func TestKeepAliveServesTwoRequestsOnOneSocket(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbList, map[string]string{"title-contains": "alpha"})
	first := readResponse(t, conn)
	if first.status != wire.StatusOK {
		t.Fatalf("first LIST: expected OK, got %s", first.status)
	}

	statsDuring := ts.srv.Stats()
	if statsDuring.OpenConnections != 1 {
		t.Fatalf("expected 1 open connection while the socket is alive, got %d", statsDuring.OpenConnections)
	}

	sendRequest(t, conn, wire.VerbList, map[string]string{"title-contains": "beta"})
	second := readResponse(t, conn)
	if second.status != wire.StatusOK {
		t.Fatalf("second LIST: expected OK, got %s", second.status)
	}

	conn.Close()
	deadline := time.After(time.Second)
	for ts.srv.Stats().OpenConnections != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected open connection count to drop to 0 after close")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandshakeFallback(t *testing.T) {
	// secure-required=false with no handshake ever attempted by the peer:
	// the server must still serve the connection in cleartext, exercised
	// here without a real TLS client so the handshake genuinely never
	// starts.
	ts := startTestServer(t, server.Config{
		TLSConfig:                &tls.Config{InsecureSkipVerify: true},
		SecureConnectionRequired: false,
		HandshakeCap:             0,
	})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbList, map[string]string{"title-contains": "alpha"})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusOK {
		t.Fatalf("expected cleartext fallback to still serve the request, got %s", resp.status)
	}
}

func TestHandshakeFallbackBackgroundMode(t *testing.T) {
	// Same fallback contract with background handshaking enabled: the
	// cleartext peer's first request byte must survive the sniff performed
	// by the handshake task before the socket lands in the ready tray.
	ts := startTestServer(t, server.Config{
		TLSConfig:                &tls.Config{InsecureSkipVerify: true},
		SecureConnectionRequired: false,
		HandshakeCap:             2,
	})
	conn := ts.dial(t)
	defer conn.Close()

	sendRequest(t, conn, wire.VerbList, map[string]string{"title-contains": "alpha"})
	resp := readResponse(t, conn)
	if resp.status != wire.StatusOK {
		t.Fatalf("expected cleartext fallback through the ready tray to serve the request, got %s", resp.status)
	}
}

func TestShutdownClosesAllOpenSockets(t *testing.T) {
	ts := startTestServer(t, server.Config{})
	conns := make([]net.Conn, 4)
	for i := range conns {
		conns[i] = ts.dial(t)
		sendRequest(t, conns[i], wire.VerbList, map[string]string{"title-contains": "alpha"})
		if resp := readResponse(t, conns[i]); resp.status != wire.StatusOK {
			t.Fatalf("warmup request %d: expected OK, got %s", i, resp.status)
		}
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	deadline := time.After(time.Second)
	for ts.srv.Stats().OpenConnections != 4 {
		select {
		case <-deadline:
			t.Fatalf("expected 4 open connections before shutdown")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := ts.srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ts.srv.Stats().OpenConnections; got != 0 {
		t.Fatalf("expected 0 open connections after shutdown, got %d", got)
	}

	if _, err := net.DialTimeout("tcp", ts.addr, 200*time.Millisecond); err == nil {
		t.Fatalf("expected dialing a stopped listener to fail")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
