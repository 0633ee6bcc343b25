package tcpserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/relaylog/logcore/pkg/queue"
	"github.com/relaylog/logcore/pkg/stream"
)

func dialN(t *testing.T, addr string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		t.Cleanup(func() { c.Close() })
	}
}

func TestServerEnforcesSessionCap(t *testing.T) {
	drv := stream.NewPlaintextDriver()

	var mu sync.Mutex
	var received []*queue.Message

	s := New(nil, drv, Config{
		MaxSessions: 2,
		MaxFrame:    1024,
		Dispatch: func(m *queue.Message) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, m)
		},
	}, Callbacks{})

	if err := s.OpenListenSockets([]ListenerSpec{{Address: "127.0.0.1:0"}}); err != nil {
		t.Fatalf("OpenListenSockets: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Run(ctx)
	defer s.Destruct()

	var addr string
	s.mu.Lock()
	addr = s.listeners[0].Addr().String()
	s.mu.Unlock()

	dialN(t, addr, 3)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.SessionCount() == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := s.SessionCount(); got != 2 {
		t.Fatalf("expected session count capped at 2, got %d", got)
	}
}
