package gateway

import (
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"github.com/tzrikka/netduct/pkg/proto"
)

// Size of the read buffer of each stream's reader goroutine.
const readBufSize = 16 * 1024

var errUnknownStream = errors.New("unknown stream")

// streamConn is the subset of [net.TCPConn] and [tls.Conn] that the stream
// table relies on: full-duplex I/O, plus the ability to shut down just the
// outbound direction.
type streamConn interface {
	io.ReadWriteCloser
	CloseWrite() error
}

// streamTable maps stream IDs to their open network connections, and
// allocates the IDs. It is shared by a session's dispatcher and all of its
// reader goroutines, guarded by a single mutex.
//
// writers is the client-visible side of the table: a tcp_close request
// removes the writer and sends the peer a FIN (or TLS close_notify), while
// the reader keeps draining the inbound direction until EOF. conns tracks
// every connection whose reader is still alive, so that session teardown
// can unblock and terminate all readers, including those that already lost
// their writer.
type streamTable struct {
	mu      sync.Mutex
	nextID  uint64
	writers map[uint64]streamConn
	conns   map[uint64]streamConn
}

func newStreamTable() *streamTable {
	return &streamTable{
		nextID:  1,
		writers: map[uint64]streamConn{},
		conns:   map[uint64]streamConn{},
	}
}

// allocateID returns the next stream ID. IDs are strictly monotonic and
// never reused within a session.
func (t *streamTable) allocateID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	return id
}

func (t *streamTable) insert(id uint64, conn streamConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writers[id] = conn
	t.conns[id] = conn
}

// write copies data to the stream's outbound half. The table lock is held
// across the write, so a concurrent removal cannot invalidate the
// connection mid-write. This serializes writes across all of a session's
// streams, which is acceptable at this layer.
func (t *streamTable) write(id uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.writers[id]
	if !ok {
		return errUnknownStream
	}

	_, err := conn.Write(data)
	return err
}

// closeWrite removes the stream's writer and half-closes the connection.
// The reader half stays registered until it observes EOF.
func (t *streamTable) closeWrite(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.writers[id]
	if !ok {
		return
	}

	delete(t.writers, id)
	_ = conn.CloseWrite()
}

// remove deregisters a stream entirely and closes its connection.
// Called by the stream's reader goroutine on EOF or a read error.
func (t *streamTable) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.writers, id)
	if conn, ok := t.conns[id]; ok {
		delete(t.conns, id)
		_ = conn.Close()
	}
}

// closeAll force-closes every connection that is still alive. Blocked
// readers fail their next read and deregister themselves.
func (t *streamTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, conn := range t.conns {
		delete(t.conns, id)
		delete(t.writers, id)
		_ = conn.Close()
	}
}

// readStream runs as a goroutine for the lifetime of one stream, relaying
// inbound bytes to the client as tcp_data frames. On EOF it emits a
// terminal tcp_close frame without an error, on a read failure one with an
// error, and either way it deregisters the stream from the table.
func (s *session) readStream(id uint64, conn streamConn) {
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.out.send(proto.TCPDataMessage{
				Type:         proto.TypeTCPData,
				StreamID:     id,
				Data:         base64.StdEncoding.EncodeToString(buf[:n]),
				DataEncoding: "base64",
			})
		}
		if err == nil {
			continue
		}

		msg := proto.TCPCloseMessage{Type: proto.TypeTCPClose, StreamID: id}
		if !errors.Is(err, io.EOF) {
			msg.Error = strPtr("read error: " + err.Error())
		}
		s.out.send(msg)
		s.streams.remove(id)
		s.logger.Debug().Uint64("stream_id", id).Err(err).Msg("stream reader done")
		return
	}
}

func strPtr(s string) *string {
	return &s
}
