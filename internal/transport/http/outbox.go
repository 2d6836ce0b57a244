package http

import (
	"sync"
	"time"
)

const (
	outboxSize       = 16
	defaultWriteWait = 10 * time.Second
)

// outbox queues messages for one websocket. push never blocks: a full
// queue drops the message and a closed one ignores it, so controller
// timers never wait on a slow client.
type outbox struct {
	send chan outboundMessage
	done chan struct{}
	once sync.Once
}

func newOutbox(size int) *outbox {
	return &outbox{
		send: make(chan outboundMessage, size),
		done: make(chan struct{}),
	}
}

func (o *outbox) push(msg outboundMessage) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.send <- msg:
		return true
	default:
		return false
	}
}

func (o *outbox) close() {
	o.once.Do(func() { close(o.done) })
}

// run writes queued messages until the outbox is closed, then flushes what
// is still queued. It stops at the first write error.
func (o *outbox) run(write func(outboundMessage) error) {
	for {
		select {
		case msg := <-o.send:
			if err := write(msg); err != nil {
				return
			}
		case <-o.done:
			for {
				select {
				case msg := <-o.send:
					if err := write(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
