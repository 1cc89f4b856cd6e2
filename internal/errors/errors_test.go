package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

// fakeTimeoutErr simulates a net.Error with Timeout semantics (we don't need full net.Error here).
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestIsClientFaultClassification(t *testing.T) {
	root := stdErrors.New("root")
	wrapped := fmt.Errorf("adding context: %w", root)
	br := NewBadRequestError("validate.field", wrapped)
	if !IsClientFault(br) {
		t.Fatalf("expected IsClientFault=true for bad request error")
	}
	if !stdErrors.Is(br, root) {
		t.Fatalf("expected errors.Is to find root cause")
	}
	var bre *BadRequestError
	if !stdErrors.As(br, &bre) {
		t.Fatalf("expected errors.As to *BadRequestError")
	}
	if bre.Op != "validate.field" {
		t.Fatalf("unexpected op: %s", bre.Op)
	}

	uv := NewUnknownVerbError("FROB")
	if !IsClientFault(uv) {
		t.Fatalf("expected unknown verb error classified as client fault")
	}
	uf := NewUnknownFieldError("bitrate")
	if !IsClientFault(uf) {
		t.Fatalf("expected unknown field error classified as client fault")
	}
	if IsServerFault(uv) {
		t.Fatalf("client fault should not also be server fault")
	}
}

func TestIsServerFaultClassification(t *testing.T) {
	su := NewStoreUnavailableError("catalog.listAll", stdErrors.New("busy"))
	if !IsServerFault(su) {
		t.Fatalf("expected store unavailable classified as server fault")
	}
	if IsClientFault(su) {
		t.Fatalf("server fault should not also be client fault")
	}
	sg := NewStorageUnavailableError("blob.fetch", nil)
	if !IsServerFault(sg) {
		t.Fatalf("expected storage unavailable classified as server fault")
	}
}

func TestIsTimeout(t *testing.T) {
	root := fakeTimeoutErr{}
	de := NewDeadlineElapsedError("framer.readHeader", 5*time.Second, root)
	if !IsTimeout(de) {
		t.Fatalf("expected DeadlineElapsedError recognized")
	}
	if IsClientFault(de) || IsServerFault(de) {
		t.Fatalf("deadline elapsed should not be classified as client/server fault")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("expected context deadline recognized")
	}
	var ne error = root
	if !IsTimeout(ne) {
		t.Fatalf("expected net-like timeout recognized")
	}
}

func TestIsCancelled(t *testing.T) {
	c := NewCancelledError("pool.acquire")
	if !IsCancelled(c) {
		t.Fatalf("expected cancelled error recognized")
	}
	if IsCancelled(stdErrors.New("plain")) {
		t.Fatalf("plain error should not be cancelled")
	}
}

func TestUnwrapChains(t *testing.T) {
	base := stdErrors.New("io EOF")
	l1 := fmt.Errorf("read: %w", base)
	l2 := NewBadRequestError("validate.id", l1)
	if !stdErrors.Is(l2, base) {
		t.Fatalf("errors.Is should reach base cause")
	}
	var cf clientFault
	if !stdErrors.As(l2, &cf) {
		t.Fatalf("expected to match clientFault via As")
	}
}

func TestNilSafety(t *testing.T) {
	if IsClientFault(nil) {
		t.Fatalf("nil should not be client fault")
	}
	if IsServerFault(nil) {
		t.Fatalf("nil should not be server fault")
	}
	if IsTimeout(nil) {
		t.Fatalf("nil should not be timeout")
	}
	if IsCancelled(nil) {
		t.Fatalf("nil should not be cancelled")
	}
}

func TestConstructorWithoutCause(t *testing.T) {
	uf := NewUnknownFieldError("codec")
	if uf == nil {
		t.Fatalf("constructor returned nil")
	}
	if errStr := uf.Error(); errStr == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestNilErrBranchesAndStrings(t *testing.T) {
	pm := NewProtocolMalformedError("framer.readHeader", nil)
	if pm == nil {
		t.Fatalf("nil protocol malformed error")
	}
	if s := pm.Error(); s == "" || s == "protocol malformed:" {
		t.Fatalf("unexpected protocol malformed error string: %q", s)
	}

	br := NewBadRequestError("op2", nil)
	if s := br.Error(); s == "" || s == "bad request:" {
		t.Fatalf("bad request error string: %q", s)
	}

	pc := NewPeerClosedError("op3")
	if s := pc.Error(); s == "" {
		t.Fatalf("empty peer closed error string")
	}

	su := NewStoreUnavailableError("op4", nil)
	if s := su.Error(); s == "" {
		t.Fatalf("empty store unavailable error string")
	}

	sg := NewStorageUnavailableError("op5", nil)
	if s := sg.Error(); s == "" {
		t.Fatalf("empty storage unavailable error string")
	}

	hf := NewHandshakeFailedError("op6", nil)
	if s := hf.Error(); s == "" {
		t.Fatalf("empty handshake failed error string")
	}

	ce := NewCancelledError("op7")
	if s := ce.Error(); s == "" {
		t.Fatalf("empty cancelled error string")
	}

	de := NewDeadlineElapsedError("op8", 100*time.Millisecond, nil)
	if !IsTimeout(de) {
		t.Fatalf("timeout classification failed")
	}
	if IsClientFault(de) {
		t.Fatalf("timeout misclassified as client fault")
	}
	if s := de.Error(); s == "" {
		t.Fatalf("empty deadline elapsed error string")
	}
}

func TestNegativePredicates(t *testing.T) {
	if IsClientFault(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be client fault")
	}
	if IsServerFault(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be server fault")
	}
	if IsTimeout(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be timeout")
	}
}
