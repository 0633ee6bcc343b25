package session

import (
	"net"
	"strings"
	"testing"

	"github.com/relaylog/logcore/pkg/queue"
	"github.com/relaylog/logcore/pkg/stream"
)

func pipeConn(t *testing.T) *stream.Conn {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() { c1.Close(); c2.Close() })
	return &stream.Conn{Conn: c2, PeerAddr: net.ParseIP("127.0.0.1"), PeerPort: 9999}
}

func TestSessionDeliversDelimitedMessages(t *testing.T) {
	conn := pipeConn(t)
	var got []*queue.Message
	s := New(nil, Config{
		Conn:      conn,
		InputName: "test-in",
		Sink:      func(m *queue.Message) { got = append(got, m) },
		MaxFrame:  1024,
	})
	s.Open()

	if err := s.OnData([]byte("hello\nworld\n")); err != nil {
		t.Fatalf("OnData: %v", err)
	}
	if len(got) != 2 || string(got[0].Payload) != "hello" || string(got[1].Payload) != "world" {
		t.Fatalf("unexpected messages: %+v", got)
	}
	if got[0].InputName != "test-in" {
		t.Fatalf("expected input name tag, got %q", got[0].InputName)
	}
}

func TestSessionRegularCloseFlushesPending(t *testing.T) {
	conn := pipeConn(t)
	var got []*queue.Message
	s := New(nil, Config{
		Conn:     conn,
		Sink:     func(m *queue.Message) { got = append(got, m) },
		MaxFrame: 1024,
	})
	s.Open()
	s.OnData([]byte("partial"))
	s.OnCloseRegular("remote closed connection")

	if len(got) != 1 || string(got[0].Payload) != "partial" {
		t.Fatalf("expected flushed partial frame, got %+v", got)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", s.State())
	}
}

func TestSessionErrorCloseDiscardsPending(t *testing.T) {
	conn := pipeConn(t)
	var got []*queue.Message
	s := New(nil, Config{
		Conn:     conn,
		Sink:     func(m *queue.Message) { got = append(got, m) },
		MaxFrame: 1024,
	})
	s.Open()
	s.OnData([]byte("partial"))
	s.OnCloseError("frame error")

	if len(got) != 0 {
		t.Fatalf("expected no flushed message on error close, got %+v", got)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", s.State())
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	conn := pipeConn(t)
	s := New(nil, Config{Conn: conn, MaxFrame: 1024})
	s.Open()
	s.OnCloseRegular("remote closed connection")
	s.OnCloseRegular("remote closed connection")
	s.OnCloseError("frame error")
}

func TestSessionEmitsSyntheticCloseMessageWhenEnabled(t *testing.T) {
	conn := pipeConn(t)
	var got []*queue.Message
	s := New(nil, Config{
		Conn:           conn,
		InputName:      "test-in",
		Sink:           func(m *queue.Message) { got = append(got, m) },
		MaxFrame:       1024,
		EmitMsgOnClose: true,
	})
	s.Open()
	s.OnCloseRegular("remote closed connection")

	if len(got) != 1 {
		t.Fatalf("expected one synthetic close message, got %d", len(got))
	}
	msg := got[0]
	if msg.InputName != "test-in" {
		t.Fatalf("expected close message tagged with input name, got %q", msg.InputName)
	}
	if msg.PeerAddr != "127.0.0.1" {
		t.Fatalf("expected close message to carry peer address, got %q", msg.PeerAddr)
	}
	if !containsAll(string(msg.Payload), "test-in", "127.0.0.1", "remote closed connection") {
		t.Fatalf("expected close message to describe input, peer, and reason, got %q", msg.Payload)
	}
}

func TestSessionOmitsSyntheticCloseMessageByDefault(t *testing.T) {
	conn := pipeConn(t)
	var got []*queue.Message
	s := New(nil, Config{
		Conn:      conn,
		InputName: "test-in",
		Sink:      func(m *queue.Message) { got = append(got, m) },
		MaxFrame:  1024,
	})
	s.Open()
	s.OnCloseRegular("remote closed connection")

	if len(got) != 0 {
		t.Fatalf("expected no synthetic close message when EmitMsgOnClose unset, got %+v", got)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
