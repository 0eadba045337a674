package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kabili207/lorastar-go/transport"
)

type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written []byte
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}
func (p *pipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

func TestProcessLines_Single(t *testing.T) {
	var received []string
	tr := &Transport{}
	tr.lineHandler = func(line []byte, source transport.Source) {
		received = append(received, string(line))
		if source != transport.SourceSerial {
			t.Errorf("expected SourceSerial, got %v", source)
		}
	}

	tr.processLines([]byte("s,3\n"))
	if len(received) != 1 || received[0] != "s,3" {
		t.Fatalf("received = %q", received)
	}
}

func TestProcessLines_IncrementalAssembly(t *testing.T) {
	var received []string
	tr := &Transport{}
	tr.lineHandler = func(line []byte, _ transport.Source) {
		received = append(received, string(line))
	}

	// Feed bytes one at a time, simulating slow serial arrival
	for _, b := range []byte("c,2,0,1\r\nr,125000,5,9\n") {
		tr.processLines([]byte{b})
	}
	if len(received) != 2 || received[0] != "c,2,0,1" || received[1] != "r,125000,5,9" {
		t.Fatalf("received = %q", received)
	}
}

func TestProcessLines_NoHandler(t *testing.T) {
	tr := &Transport{}
	tr.processLines([]byte("s,1\n")) // must not panic
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Port: "/dev/null"})
	if tr.cfg.BaudRate != DefaultBaudRate {
		t.Errorf("expected default baud rate %d, got %d", DefaultBaudRate, tr.cfg.BaudRate)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestStart_MissingPort(t *testing.T) {
	tr := New(Config{})
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty port")
	}
}

func TestWriteLine_NotConnected(t *testing.T) {
	tr := New(Config{Port: "/dev/null"})
	if err := tr.WriteLine([]byte("x")); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestAttached_RoundTrip(t *testing.T) {
	port := newPipePort()
	tr := New(Config{Port: "test"})

	var mu sync.Mutex
	var events []transport.Event
	tr.SetStateHandler(func(_ transport.HostLink, e transport.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	lines := make(chan string, 4)
	tr.SetLineHandler(func(line []byte, _ transport.Source) {
		lines <- string(line)
	})

	tr.attach(context.Background(), port)
	if !tr.IsConnected() {
		t.Fatal("expected connected after attach")
	}

	if err := tr.WriteLine([]byte(`{"flag":"u"}`)); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := tr.WriteLine([]byte("a\nb")); err == nil {
		t.Error("line with a newline should be rejected")
	}
	port.mu.Lock()
	got := string(port.written)
	port.mu.Unlock()
	if got != "{\"flag\":\"u\"}\n" {
		t.Errorf("written = %q", got)
	}

	if _, err := port.w.Write([]byte("s,7\n")); err != nil {
		t.Fatal(err)
	}
	select {
	case line := <-lines:
		if line != "s,7" {
			t.Errorf("line = %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("downlink line not delivered")
	}

	if err := tr.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if tr.IsConnected() {
		t.Error("expected disconnected after Stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || events[0] != transport.EventConnected || events[len(events)-1] != transport.EventDisconnected {
		t.Errorf("events = %v", events)
	}
}
