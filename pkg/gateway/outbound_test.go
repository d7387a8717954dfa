package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestOutboundStopReleasesProducers(t *testing.T) {
	o := newOutbound(zerolog.Nop())
	o.stop()

	finished := make(chan struct{})
	go func() {
		// Far more frames than the queue can buffer: producers
		// must not block once the consumer is gone.
		for range outboundQueueSize * 2 {
			o.send(map[string]string{"type": "tcp_data"})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("send() blocked after stop()")
	}
}

func TestOutboundStopIsIdempotent(t *testing.T) {
	o := newOutbound(zerolog.Nop())
	o.stop()
	o.stop()
}

func TestOutboundDropsUnencodableFrames(t *testing.T) {
	o := newOutbound(zerolog.Nop())
	o.send(make(chan int)) // Not JSON-encodable.

	select {
	case b := <-o.ch:
		t.Errorf("queue received %q for an unencodable frame", b)
	default:
	}
}

func TestOutboundFIFOPerProducer(t *testing.T) {
	o := newOutbound(zerolog.Nop())
	for i := range 10 {
		o.send(map[string]int{"seq": i})
	}

	for i := range 10 {
		select {
		case b := <-o.ch:
			if want := fmt.Sprintf(`{"seq":%d}`, i); string(b) != want {
				t.Fatalf("frame %d = %s, want %s", i, b, want)
			}
		default:
			t.Fatalf("queue is missing frame %d", i)
		}
	}
}
