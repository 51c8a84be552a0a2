package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestOutboxFIFO(t *testing.T) {
	box := New()
	for i := 0; i < 100; i++ {
		if !box.PushText([]byte(fmt.Sprint(i))) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if box.Len() != 100 {
		t.Fatalf("Len = %d", box.Len())
	}
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		m, err := box.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if string(m.Data) != fmt.Sprint(i) {
			t.Fatalf("message %d out of order: %s", i, m.Data)
		}
	}
}

func TestOutboxPerProducerOrder(t *testing.T) {
	box := New()
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				box.PushText([]byte(fmt.Sprintf("%d:%d", p, i)))
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for n := 0; n < producers*perProducer; n++ {
		m, err := box.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		var p, i int
		fmt.Sscanf(string(m.Data), "%d:%d", &p, &i)
		if i != last[p]+1 {
			t.Fatalf("producer %d: got %d after %d", p, i, last[p])
		}
		last[p] = i
	}
	wg.Wait()
}

func TestOutboxNextBlocksUntilPush(t *testing.T) {
	box := New()
	got := make(chan Message, 1)
	go func() {
		m, err := box.Next(context.Background())
		if err == nil {
			got <- m
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	box.Push(Message{Kind: Pong, Data: []byte{1}})
	select {
	case m := <-got:
		if m.Kind != Pong {
			t.Fatalf("unexpected kind %v", m.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestOutboxCloseDropsQueued(t *testing.T) {
	box := New()
	box.PushText([]byte("stale"))
	box.Close()
	box.Close()

	if box.PushText([]byte("late")) {
		t.Fatalf("push after close accepted")
	}
	if _, err := box.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if box.Len() != 0 {
		t.Fatalf("queued messages survived close")
	}
}

func TestOutboxNextContext(t *testing.T) {
	box := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := box.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	frames []string
	failAt int
}

func (s *recordingSink) record(kind string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errors.New("peer gone")
	}
	s.frames = append(s.frames, kind+":"+string(data))
	return nil
}

func (s *recordingSink) WriteMessage(mt int, data []byte) error {
	if mt != websocket.TextMessage {
		return fmt.Errorf("unexpected message type %d", mt)
	}
	return s.record("text", data)
}

func (s *recordingSink) WriteControl(mt int, data []byte, _ time.Time) error {
	if mt != websocket.PongMessage {
		return fmt.Errorf("unexpected control type %d", mt)
	}
	return s.record("pong", data)
}

func TestForward(t *testing.T) {
	box := New()
	sink := &recordingSink{}
	done := make(chan error, 1)
	go func() { done <- Forward(context.Background(), box, sink) }()

	box.PushText([]byte("sub"))
	box.Push(Message{Kind: Pong, Data: []byte("p")})
	box.PushText([]byte("haha"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.frames)
		sink.mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	box.Close()

	if err := <-done; err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := []string{"text:sub", "pong:p", "text:haha"}
	if fmt.Sprint(sink.frames) != fmt.Sprint(want) {
		t.Fatalf("frames = %v, want %v", sink.frames, want)
	}
}

func TestForwardStopsOnSendError(t *testing.T) {
	box := New()
	sink := &recordingSink{failAt: 2}
	box.PushText([]byte("a"))
	box.PushText([]byte("b"))
	box.PushText([]byte("c"))

	if err := Forward(context.Background(), box, sink); err == nil {
		t.Fatal("expected send error")
	}
	if len(sink.frames) != 1 {
		t.Fatalf("frames after failure: %v", sink.frames)
	}
}
