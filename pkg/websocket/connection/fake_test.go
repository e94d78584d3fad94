package connection_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/atomik-trading/broker-link/pkg/websocket/connection"
)

// fakeConn is a channel-driven WebSocketConn. Tests feed inbound frames
// through deliver and inspect outbound frames through writes.
type fakeConn struct {
	in      chan []byte
	readErr chan error

	mu         sync.Mutex
	writes     [][]byte
	writeDelay time.Duration
	closed     chan struct{}
	once       sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) deliver(frame []byte) {
	f.in <- frame
}

func (f *fakeConn) failRead(err error) {
	f.readErr <- err
}

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.in:
		return 1, frame, nil
	case err := <-f.readErr:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.mu.Lock()
	delay := f.writeDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	f.writes = append(f.writes, copied)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) SetReadLimit(limit int64)           {}
func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// fakeDialer hands out fresh fakeConns, optionally failing some dials first.
type fakeDialer struct {
	mu         sync.Mutex
	conns      []*fakeConn
	failNext   int
	failAll    bool
	dialCount  int
	writeDelay time.Duration
}

func (d *fakeDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (connection.WebSocketConn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialCount++
	if d.failAll || d.failNext > 0 {
		if d.failNext > 0 {
			d.failNext--
		}
		return nil, nil, errors.New("dial refused")
	}

	conn := newFakeConn()
	conn.writeDelay = d.writeDelay
	d.conns = append(d.conns, conn)
	return conn, nil, nil
}

// setWriteDelay makes every conn from later dials write slowly, so tests can
// observe ordering while a flush is still in progress.
func (d *fakeDialer) setWriteDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeDelay = delay
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
