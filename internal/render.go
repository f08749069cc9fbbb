package internal

import (
	"context"
	"errors"
	"image/color"
	"log/slog"
)

type PaintStyle struct {
	Fill color.RGBA
}

var (
	TriangleStyle = PaintStyle{Fill: color.RGBA{R: 0x00, G: 0xc8, B: 0x50, A: 0xff}}
	EllipseStyle  = PaintStyle{Fill: color.RGBA{R: 0xe0, G: 0x30, B: 0x30, A: 0xff}}
)

func StyleFor(kind ShapeKind) PaintStyle {
	if kind == KindEllipse {
		return EllipseStyle
	}

	return TriangleStyle
}

// DisplaySurface is a draw target. It is used by one Renderer only.
type DisplaySurface interface {
	Draw(ctx context.Context, shape Shape, style PaintStyle) error
}

type Renderer struct {
	logger   *slog.Logger
	display  DisplaySurface
	sub      *Subscriber[Shape]
	counters Counters
}

func NewRenderer(logger *slog.Logger, display DisplaySurface, sub *Subscriber[Shape], counters Counters) *Renderer {
	if counters == nil {
		counters = NopCounters{}
	}

	return &Renderer{
		logger:   logger.With(slog.String("component", "render")),
		display:  display,
		sub:      sub,
		counters: counters,
	}
}

// Run drains the subscription until ctx is done. Lost shapes are only
// logged and counted; a failed draw skips that shape.
func (r *Renderer) Run(ctx context.Context) error {
	for {
		msg, err := r.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				r.logger.Warn("subscription closed")
			}

			return err
		}

		if msg.IsLag() {
			r.logger.Warn("renderer lagged behind, shapes lost", slog.Uint64("missed", msg.Lagged))
			r.counters.Incr(ctx, CounterLagged, int64(msg.Lagged))
			continue
		}

		shape := msg.Value
		if err := r.display.Draw(ctx, shape, StyleFor(shape.Kind)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			r.logger.Error("failed to draw shape", slog.Any("err", err), slog.String("kind", shape.Kind.String()))
			r.counters.Incr(ctx, CounterDrawFailures, 1)
			continue
		}

		r.counters.Incr(ctx, CounterDrawn, 1)
	}
}
