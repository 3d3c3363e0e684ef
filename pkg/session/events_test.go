package session

import (
	"testing"
	"time"

	"github.com/arzzra/rtccore/pkg/rtcpengine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEventBusDropsStaleMediaQualityUnderBackpressure(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())

	stale := rtcpengine.Quality{MOS: 4.0}
	fresh := rtcpengine.Quality{MOS: 2.0}
	bus.publish(AppEvent{Kind: MediaQuality, Quality: &stale})
	bus.publish(AppEvent{Kind: MediaQuality, Quality: &fresh})

	got := <-bus.Events()
	assert.Equal(t, MediaQuality, got.Kind)
	assert.Equal(t, fresh, *got.Quality)

	select {
	case <-bus.Events():
		t.Fatal("only one event should have survived the full queue")
	default:
	}
}

func TestEventBusBlocksOnNonMediaQualityBackpressure(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	bus.publish(AppEvent{Kind: CallEnded, SessionID: "a"})

	done := make(chan struct{})
	go func() {
		bus.publish(AppEvent{Kind: CallEnded, SessionID: "b"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("publish of a non-droppable kind must block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	<-bus.Events()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish did not unblock once the queue drained")
	}
}
