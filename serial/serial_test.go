package serial

import "testing"

func TestAutoBaudWatcherMatchesWithinSingleChunk(t *testing.T) {
	w := newAutoBaudWatcher()
	w.Feed([]byte{0x41, 0x42})
	if w.Acked() {
		t.Fatal("must not ack before the handshake bytes arrive")
	}
	w.Feed(append([]byte{0x43}, autoBaudAck...))
	if !w.Acked() {
		t.Fatal("expected ack once the handshake bytes arrive")
	}
}

func TestAutoBaudWatcherMatchesAcrossChunkBoundary(t *testing.T) {
	w := newAutoBaudWatcher()
	w.Feed(append([]byte{0x01, 0x02}, autoBaudAck[0]))
	if w.Acked() {
		t.Fatal("must not ack on a partial match")
	}
	w.Feed(autoBaudAck[1:])
	if !w.Acked() {
		t.Fatal("expected ack once the second half of the handshake arrives")
	}
}

func TestAutoBaudWatcherIgnoresFurtherFeedsOnceAcked(t *testing.T) {
	w := newAutoBaudWatcher()
	w.Feed(autoBaudAck)
	if !w.Acked() {
		t.Fatal("expected ack")
	}
	w.Feed([]byte{0xFF, 0xFF, 0xFF})
	if !w.Acked() {
		t.Fatal("ack must stay sticky")
	}
}

func TestClassifyOpenErrorMapsKnownStrings(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"open /dev/ttyUSB0: permission denied", ErrPermissionDenied},
		{"open /dev/ttyUSB9: no such file or directory", ErrPortUnavailable},
		{"unsupported baud rate: 9999999", ErrBaudUnsupported},
		{"some other failure", ErrPortUnavailable},
	}
	for _, c := range cases {
		got := classifyOpenError(errString(c.msg))
		if got != c.want {
			t.Errorf("classifyOpenError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
