// Package grbl is the Motion-Controller Link: a duplex framed serial
// transport to a GRBL-dialect motion controller, with a prioritized
// real-time command channel, a queued line channel, and a status parser
// that demultiplexes status reports into typed updates delivered to a
// single callback.
package grbl

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

// Real-time command bytes, forwarded to the device out-of-band from the
// queued line stream.
const (
	CmdStatus    = '?'
	CmdFeedHold  = '!'
	CmdCycleStart = '~'
	CmdSoftReset = 0x18
)

// queueDepth bounds the line channel generously; the executor's own
// inter-line pacing (~2ms/line) is what actually governs throughput, so
// this is sized to never block a well-behaved caller rather than to model
// a genuinely unbounded queue.
const queueDepth = 8192

// readTimeout is the serial port read deadline; it bounds how long the
// ingress worker can block before rechecking for shutdown.
const readTimeout = 100 * time.Millisecond

// settleDelay is how long Connect waits after opening the port before
// flushing input and writing the wake sequence, giving the controller's
// own boot banner time to clear.
const settleDelay = 200 * time.Millisecond

// Link owns the serial connection to the motion controller. A Link is
// safe for concurrent use: Connect/Close are mutex-guarded, SendLine
// enqueues onto a buffered channel drained by a dedicated egress
// goroutine, and RealtimeCommand writes directly, racing the egress
// worker for the device by design (see RealtimeCommand).
type Link struct {
	// OnStatus, if non-nil, is invoked with every parsed status frame in
	// receive order. It must not block.
	OnStatus func(StatusUpdate)

	mu        sync.Mutex
	port      string
	baud      int
	conn      io.ReadWriteCloser
	connected bool

	lineCh   chan string
	done     chan struct{}
	writeMu  sync.Mutex
	limiter  *rate.Limiter
	wg       sync.WaitGroup
}

// New returns a Link targeting the given serial port and baud rate. It
// does not open the connection; call Connect.
func New(port string, baud int) *Link {
	return &Link{
		port: port,
		baud: baud,
		// capped at the same ~500 lines/s the executor's 2ms dwell already
		// enforces, so this never engages as anything but a backstop.
		limiter: rate.NewLimiter(rate.Limit(500), 1),
	}
}

// Connected reports whether the link currently believes it has an open
// connection to the device.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Connect opens the serial device and starts the ingress/egress workers.
// It is idempotent: calling it while already connected is a no-op. All
// failures are returned to the caller for logging; Connect never panics
// and leaves the link in the disconnected state on error.
func (l *Link) Connect() error {
	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	var conn io.ReadWriteCloser
	op := func() error {
		c, err := serial.OpenPort(&serial.Config{
			Name:        l.port,
			Baud:        l.baud,
			ReadTimeout: readTimeout,
		})
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 3 * time.Second
	if err := backoff.Retry(op, bo); err != nil {
		return errors.Wrap(err, "opening serial port")
	}

	l.mu.Lock()
	l.conn = conn
	l.connected = true
	l.lineCh = make(chan string, queueDepth)
	l.done = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(2)
	go l.egressLoop()
	go l.ingressLoop()

	time.Sleep(settleDelay)
	// best-effort input flush: if the port has a Flush method, use it to
	// discard whatever the controller's boot banner left buffered
	if f, ok := conn.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	l.writeRaw([]byte("\r\n"))
	return nil
}

// Close stops the workers and closes the device. It is safe to call on an
// already-closed or never-opened link.
func (l *Link) Close() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return nil
	}
	conn := l.conn
	done := l.done
	l.connected = false
	l.conn = nil
	l.mu.Unlock()

	close(done)
	err := conn.Close()
	l.wg.Wait()
	if err != nil {
		return errors.Wrap(err, "closing serial port")
	}
	return nil
}

// disconnect tears the link down from inside a worker goroutine after an
// I/O fault; transport errors never surface to the operator, they just
// flip the link back to disconnected so the controller continues in
// simulation mode until the next Connect.
func (l *Link) disconnect() {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	conn := l.conn
	l.connected = false
	l.conn = nil
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// SendLine enqueues s, stripped and newline-terminated, onto the line
// channel for the egress worker. If the link is not connected this is a
// silent no-op, matching the original client's `if not connected: return`.
func (l *Link) SendLine(s string) {
	l.mu.Lock()
	ch := l.lineCh
	connected := l.connected
	l.mu.Unlock()
	if !connected || ch == nil {
		return
	}
	select {
	case ch <- strings.TrimSpace(s) + "\n":
	default:
		// queue saturated far beyond any real job's needs; drop rather
		// than block the caller, which would stall the job executor
	}
}

// RealtimeCommand writes b directly to the device, bypassing the line
// queue. This intentionally races the egress worker for the underlying
// connection: real-time bytes are single-byte out-of-band codes the
// motion controller parses independent of the line stream, and
// serializing them through the same queue would spike their latency.
func (l *Link) RealtimeCommand(b byte) {
	l.mu.Lock()
	connected := l.connected
	l.mu.Unlock()
	if !connected {
		return
	}
	l.writeRaw([]byte{b})
}

func (l *Link) writeRaw(b []byte) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return
	}
	l.writeMu.Lock()
	_, err := conn.Write(b)
	l.writeMu.Unlock()
	if err != nil {
		l.disconnect()
	}
}

func (l *Link) egressLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case line, ok := <-l.lineCh:
			if !ok {
				return
			}
			_ = l.limiter.Wait(context.Background())
			l.writeRaw([]byte(line))
		}
	}
}

func (l *Link) ingressLoop() {
	defer l.wg.Done()
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	reader := bufio.NewReader(conn)
	for {
		select {
		case <-l.done:
			return
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				l.disconnect()
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "<") {
			continue
		}
		if l.OnStatus != nil {
			l.OnStatus(parseStatus(line))
		}
	}
}
