// Package termuxtest provides a scripted stand-in for the Termux API service.
// A Server accepts connections on a loopback port, records the single request
// line each client sends, then plays back a script of raw response chunks.
package termuxtest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Step is one unit of the response script: bytes to write, written as a
// single Write call after waiting Delay.
type Step struct {
	Data  []byte
	Delay time.Duration
}

// Lines returns a step writing each line followed by "\n" in one chunk.
func Lines(lines ...string) Step {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return Step{Data: []byte(b.String())}
}

// Raw returns a step writing data verbatim.
func Raw(data []byte) Step {
	return Step{Data: data}
}

// Pause returns a step that only waits.
func Pause(d time.Duration) Step {
	return Step{Delay: d}
}

// Chunked splits data into pieces of at most size bytes, each written
// separately with a short pause so the client sees distinct reads.
func Chunked(data []byte, size int) []Step {
	var steps []Step
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		steps = append(steps, Step{Data: data[:n], Delay: 5 * time.Millisecond})
		data = data[n:]
	}
	return steps
}

// Server is a scripted Termux API server bound to 127.0.0.1.
type Server struct {
	listener net.Listener
	script   []Step
	holdOpen bool

	mu           sync.Mutex
	requests     []string
	clientClosed bool
	conns        []net.Conn

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer starts a server that plays script to every client and then closes
// its side of the connection. The server is shut down by t.Cleanup.
func NewServer(t testing.TB, script ...Step) *Server {
	return start(t, false, script)
}

// NewHoldingServer is like NewServer but keeps the connection open after the
// script until the client hangs up.
func NewHoldingServer(t testing.TB, script ...Step) *Server {
	return start(t, true, script)
}

func start(t testing.TB, holdOpen bool, script []Step) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &Server{
		listener: listener,
		script:   script,
		holdOpen: holdOpen,
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		select {
		case <-s.done:
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, strings.TrimRight(line, "\n"))
	s.mu.Unlock()

	for _, step := range s.script {
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-s.done:
				return
			}
		}
		if len(step.Data) == 0 {
			continue
		}
		if _, err := conn.Write(step.Data); err != nil {
			return
		}
	}

	if !s.holdOpen {
		return
	}

	// Block until the client hangs up; the read fails with EOF or a reset.
	buf := make([]byte, 64)
	for {
		if _, err := reader.Read(buf); err != nil {
			break
		}
	}
	s.mu.Lock()
	s.clientClosed = true
	s.mu.Unlock()
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Requests returns a copy of every request line received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]string, len(s.requests))
	copy(result, s.requests)
	return result
}

// WaitForRequest waits for the first request line to arrive.
func (s *Server) WaitForRequest(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if reqs := s.Requests(); len(reqs) > 0 {
			return reqs[0], true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", false
}

// WaitForClientClose reports whether a holding server saw the client hang up
// within timeout.
func (s *Server) WaitForClientClose(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		closed := s.clientClosed
		s.mu.Unlock()
		if closed {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		for _, conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.listener.Close()
		s.wg.Wait()
	})
}

// ClosedPort returns a loopback address with nothing listening on it.
func ClosedPort(t testing.TB) (string, int) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()
	return "127.0.0.1", addr.Port
}
