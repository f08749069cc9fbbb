package impl

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gg"
	"manualpilot/shapecast/internal"
)

// Canvas is a software framebuffer standing in for the display controller.
type Canvas struct {
	mu       sync.Mutex
	dc       *gg.Context
	snapshot string
}

// NewCanvas creates a black canvas. When snapshot is not empty the canvas is
// written there as PNG after every draw.
func NewCanvas(width, height int, snapshot string) *Canvas {
	dc := gg.NewContext(width, height)
	dc.ClearWithColor(gg.Black)

	return &Canvas{dc: dc, snapshot: snapshot}
}

func (c *Canvas) Draw(ctx context.Context, shape internal.Shape, style internal.PaintStyle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dc.SetColor(style.Fill)

	switch shape.Kind {
	case internal.KindTriangle:
		t := shape.Triangle
		c.dc.MoveTo(float64(t.A.X), float64(t.A.Y))
		c.dc.LineTo(float64(t.B.X), float64(t.B.Y))
		c.dc.LineTo(float64(t.C.X), float64(t.C.Y))
		c.dc.ClosePath()
	case internal.KindEllipse:
		e := shape.Ellipse
		rx := float64(e.Size.Width) / 2
		ry := float64(e.Size.Height) / 2
		c.dc.DrawEllipse(float64(e.TopLeft.X)+rx, float64(e.TopLeft.Y)+ry, rx, ry)
	default:
		return fmt.Errorf("%w: %v", internal.ErrUnknownShape, shape.Kind)
	}

	if err := c.dc.Fill(); err != nil {
		return fmt.Errorf("fill %v: %w", shape.Kind, err)
	}

	if c.snapshot == "" {
		return nil
	}

	if err := c.dc.SavePNG(c.snapshot); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	return nil
}

func (c *Canvas) Image() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dc.Image()
}

func (c *Canvas) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dc.Close()
}
