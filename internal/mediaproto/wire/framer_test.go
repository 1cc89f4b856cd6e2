package wire

import (
	"net"
	"testing"
	"time"
)

func TestFramerExtractRequest(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	raw := "request-type LIST\ntitle-contains .*\nbody-length 0\n\n"
	go func() {
		_, _ = client.Write([]byte(raw))
	}()

	f := NewFramer(nil)
	msg, err := f.Extract(server, time.Second, time.Second)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	first, ok := msg.First()
	if !ok || first.Key != "request-type" || first.Value != "LIST" {
		t.Fatalf("unexpected first line: %+v ok=%v", first, ok)
	}
	if v, ok := msg.Get("title-contains"); !ok || v != ".*" {
		t.Fatalf("unexpected title-contains: %q ok=%v", v, ok)
	}
	if len(msg.Body) != 0 {
		t.Fatalf("expected empty body, got %d bytes", len(msg.Body))
	}
}

func TestFramerExtractRequestWithBody(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	body := []byte("0123456789")
	raw := "request-type FETCH\nmedia-id 01ab\nbody-length " + "10" + "\n\n"
	go func() {
		_, _ = client.Write([]byte(raw))
		_, _ = client.Write(body)
	}()

	f := NewFramer(nil)
	msg, err := f.Extract(server, time.Second, time.Second)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if string(msg.Body) != string(body) {
		t.Fatalf("body mismatch: got %q want %q", msg.Body, body)
	}
}

func TestFramerHeaderCapExceeded(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		junk := make([]byte, HeaderCap+1024)
		for i := range junk {
			junk[i] = 'x'
		}
		_, _ = client.Write(junk)
	}()

	f := NewFramer(nil)
	_, err := f.Extract(server, 2*time.Second, 2*time.Second)
	if err == nil {
		t.Fatalf("expected ProtocolMalformed error for oversized header")
	}
}

func TestFramerPeerClosedBeforeTerminator(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("request-type LIST\n"))
		client.Close()
	}()

	f := NewFramer(nil)
	_, err := f.Extract(server, time.Second, time.Second)
	if err == nil {
		t.Fatalf("expected an error for premature close")
	}
}

func TestFramerWriteAndExtractRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	body := EncodeMediaList([]string{"01", "02"}, []string{"alpha", "beta"})

	go func() {
		f := NewFramer(nil)
		if err := f.Write(server, StatusOK, BodyTypeMediaList, body, time.Second); err != nil {
			t.Errorf("write: %v", err)
		}
	}()

	f := NewFramer(nil)
	msg, err := f.Extract(client, time.Second, time.Second)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	first, _ := msg.First()
	if first.Key != "response-type" || first.Value != string(StatusOK) {
		t.Fatalf("unexpected first line: %+v", first)
	}
	if v, ok := msg.Get("serialized-object"); !ok || v != string(BodyTypeMediaList) {
		t.Fatalf("unexpected serialized-object: %q ok=%v", v, ok)
	}
	ids, titles, err := DecodeMediaList(msg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ids) != 2 || ids[0] != "01" || titles[1] != "beta" {
		t.Fatalf("unexpected decoded body: ids=%v titles=%v", ids, titles)
	}
}

func TestFramerDeadlineElapsed(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	f := NewFramer(nil)
	_, err := f.Extract(server, 20*time.Millisecond, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected deadline elapsed error when peer sends nothing")
	}
}
