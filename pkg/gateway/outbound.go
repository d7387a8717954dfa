package gateway

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const outboundQueueSize = 256

// outbound funnels frames from the dispatcher and all stream readers into
// a single WebSocket writer goroutine. gorilla connections allow at most
// one concurrent writer, and a single queue consumer also guarantees that
// frames from different producers are never interleaved mid-send.
//
// Ordering is FIFO per producer; no ordering is promised between different
// producers.
type outbound struct {
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newOutbound(l zerolog.Logger) *outbound {
	return &outbound{
		ch:     make(chan []byte, outboundQueueSize),
		done:   make(chan struct{}),
		logger: l,
	}
}

// send marshals a frame and enqueues it for the writer goroutine.
// Frames are dropped silently once the writer is gone.
func (o *outbound) send(frame any) {
	b, err := json.Marshal(frame)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to encode outbound frame")
		return
	}

	select {
	case o.ch <- b:
	case <-o.done:
	}
}

// run consumes the queue and writes each frame to the WebSocket as a text
// message. It exits, and stops accepting new frames, on the first send
// failure or when the session shuts down.
func (o *outbound) run(conn *websocket.Conn) {
	defer o.stop()

	for {
		select {
		case b := <-o.ch:
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				o.logger.Debug().Err(err).Msg("WebSocket send failed, dropping outbound queue")
				return
			}
		case <-o.done:
			return
		}
	}
}

// stop terminates the writer goroutine and releases all blocked producers.
func (o *outbound) stop() {
	o.once.Do(func() { close(o.done) })
}
