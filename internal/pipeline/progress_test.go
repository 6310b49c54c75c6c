package pipeline

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestProgressListenerParsesOutTime(t *testing.T) {
	updates := make(chan float64, 16)
	listener, err := newProgressListener(100, func(percent float64) {
		updates <- percent
	})
	if err != nil {
		t.Fatalf("newProgressListener: %v", err)
	}
	defer listener.Stop()

	addr := strings.TrimPrefix(listener.Addr(), "tcp://")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	lines := "frame=1\nout_time_us=25000000\nout_time_us=not-a-number\nout_time_us=200000000\nprogress=end\n"
	if _, err := conn.Write([]byte(lines)); err != nil {
		t.Fatalf("write: %v", err)
	}

	expect := func(want float64) {
		t.Helper()
		select {
		case got := <-updates:
			if got != want {
				t.Fatalf("expected %f, got %f", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for progress update")
		}
	}
	expect(25)
	// 200s into a 100s file caps at 99, never 100.
	expect(99)
}

func TestProgressListenerStopIsIdempotent(t *testing.T) {
	listener, err := newProgressListener(10, nil)
	if err != nil {
		t.Fatalf("newProgressListener: %v", err)
	}
	listener.Stop()
	listener.Stop()
}
