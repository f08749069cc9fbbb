package internal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type drawCall struct {
	shape Shape
	style PaintStyle
}

type fakeDisplay struct {
	mu    sync.Mutex
	calls []drawCall
	fail  map[int]error
}

func (d *fakeDisplay) Draw(_ context.Context, shape Shape, style PaintStyle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.calls)
	d.calls = append(d.calls, drawCall{shape: shape, style: style})
	return d.fail[n]
}

func (d *fakeDisplay) drawn() []drawCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]drawCall(nil), d.calls...)
}

func TestRendererPaintsByVariant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewShapeChannel()
	pub, _ := ch.Publisher()
	sub, _ := ch.Subscribe()

	display := &fakeDisplay{}
	counters := NewMemoryCounters()
	go func() { _ = NewRenderer(testLogger(), display, sub, counters).Run(ctx) }()

	triangle := NewTriangle(Point{0, 0}, Point{1, 0}, Point{0, 1})
	ellipse := NewEllipse(Point{2, 2}, Size{4, 6})
	_ = pub.Publish(triangle)
	_ = pub.Publish(ellipse)

	if !eventually(t, time.Second, func() bool { return len(display.drawn()) == 2 }) {
		t.Fatalf("expected 2 draws, got %d", len(display.drawn()))
	}

	calls := display.drawn()
	if calls[0].shape != triangle || calls[0].style != TriangleStyle {
		t.Errorf("unexpected first draw %+v", calls[0])
	}

	if calls[1].shape != ellipse || calls[1].style != EllipseStyle {
		t.Errorf("unexpected second draw %+v", calls[1])
	}

	if counters.Get(CounterDrawn) != 2 {
		t.Errorf("expected 2 drawn, got %d", counters.Get(CounterDrawn))
	}
}

func TestRendererSkipsLostShapes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewShapeChannel()
	pub, _ := ch.Publisher()
	sub, _ := ch.Subscribe()

	for i := 0; i < QueueCapacity+2; i++ {
		_ = pub.Publish(NewEllipse(Point{int32(i), 0}, Size{1, 1}))
	}

	display := &fakeDisplay{}
	counters := NewMemoryCounters()
	go func() { _ = NewRenderer(testLogger(), display, sub, counters).Run(ctx) }()

	if !eventually(t, time.Second, func() bool { return len(display.drawn()) == QueueCapacity }) {
		t.Fatalf("expected %d draws, got %d", QueueCapacity, len(display.drawn()))
	}

	if first := display.drawn()[0].shape.Ellipse.TopLeft.X; first != 2 {
		t.Errorf("expected the oldest two shapes to be lost, first drawn %d", first)
	}

	if counters.Get(CounterLagged) != 2 {
		t.Errorf("expected 2 lagged, got %d", counters.Get(CounterLagged))
	}
}

func TestRendererContinuesAfterDrawFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewShapeChannel()
	pub, _ := ch.Publisher()
	sub, _ := ch.Subscribe()

	display := &fakeDisplay{fail: map[int]error{0: errors.New("spi bus busy")}}
	counters := NewMemoryCounters()

	done := make(chan error, 1)
	go func() { done <- NewRenderer(testLogger(), display, sub, counters).Run(ctx) }()

	_ = pub.Publish(NewTriangle(Point{}, Point{}, Point{}))
	_ = pub.Publish(NewEllipse(Point{}, Size{}))

	if !eventually(t, time.Second, func() bool { return counters.Get(CounterDrawn) == 1 }) {
		t.Fatal("renderer stopped after a failed draw")
	}

	if counters.Get(CounterDrawFailures) != 1 {
		t.Errorf("expected 1 draw failure, got %d", counters.Get(CounterDrawFailures))
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("renderer did not stop")
	}
}
