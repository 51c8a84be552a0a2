package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Next once the outbox is closed.
var ErrClosed = errors.New("outbox closed")

// Kind tells the writer how to put a message on the wire.
type Kind int

const (
	// Text is sent as a text data frame.
	Text Kind = iota
	// Pong is sent as a pong control frame.
	Pong
)

// Message is one outbound payload.
type Message struct {
	Kind Kind
	Data []byte
}

// Outbox is an unbounded multi-producer single-consumer queue bound to one
// connection. Messages from one producer leave in the order they were pushed.
type Outbox struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
	ready  chan struct{}
}

// New returns an empty, open outbox.
func New() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

// Push enqueues m without blocking. It reports false once the outbox is closed.
func (o *Outbox) Push(m Message) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, m)
	select {
	case o.ready <- struct{}{}:
	default:
	}
	o.mu.Unlock()
	return true
}

// PushText is shorthand for pushing a text frame.
func (o *Outbox) PushText(data []byte) bool {
	return o.Push(Message{Kind: Text, Data: data})
}

// Next blocks until a message is available, the outbox closes or ctx ends.
func (o *Outbox) Next(ctx context.Context) (Message, error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return Message{}, ErrClosed
		}
		if len(o.queue) > 0 {
			m := o.queue[0]
			o.queue[0] = Message{}
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return m, nil
		}
		o.mu.Unlock()

		select {
		case <-o.ready:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close discards every queued message and rejects further pushes.
// It is safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.queue = nil
	close(o.ready)
	o.mu.Unlock()
}

// writeWait bounds a single pong control write.
const writeWait = 5 * time.Second

// Sink is the outbound half of a framed connection. *websocket.Conn
// satisfies it.
type Sink interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Forward drains box into sink until the box closes, ctx ends or a write
// fails. The returned error is nil only when the box was closed.
func Forward(ctx context.Context, box *Outbox, sink Sink) error {
	for {
		m, err := box.Next(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		switch m.Kind {
		case Pong:
			err = sink.WriteControl(websocket.PongMessage, m.Data, time.Now().Add(writeWait))
		default:
			err = sink.WriteMessage(websocket.TextMessage, m.Data)
		}
		if err != nil {
			return err
		}
	}
}
