package http

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxPushNeverBlocksOnStalledWriter(t *testing.T) {
	out := newOutbox(4)
	release := make(chan struct{})
	writing := make(chan struct{}, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		out.run(func(outboundMessage) error {
			select {
			case writing <- struct{}{}:
			default:
			}
			<-release
			return errors.New("write timeout")
		})
	}()

	require.True(t, out.push(outboundMessage{Type: "tick"}))
	<-writing

	pushed := make(chan int)
	go func() {
		accepted := 0
		for i := 0; i < 100; i++ {
			if out.push(outboundMessage{Type: "tick"}) {
				accepted++
			}
		}
		pushed <- accepted
	}()
	select {
	case accepted := <-pushed:
		assert.Equal(t, 4, accepted)
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked behind a stalled writer")
	}

	out.close()
	assert.False(t, out.push(outboundMessage{Type: "submitted"}))
	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after a write error")
	}
}

func TestOutboxFlushesQueuedMessagesOnClose(t *testing.T) {
	out := newOutbox(4)
	require.True(t, out.push(outboundMessage{Type: "saved"}))
	require.True(t, out.push(outboundMessage{Type: "submitted"}))
	out.close()

	var written []string
	out.run(func(msg outboundMessage) error {
		written = append(written, msg.Type)
		return nil
	})
	assert.Equal(t, []string{"saved", "submitted"}, written)
}
