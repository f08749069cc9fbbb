package internal

import (
	"errors"
)

var (
	ErrCapacity        = errors.New("shapecast: channel capacity exceeded")
	ErrClosed          = errors.New("shapecast: handle closed")
	ErrUnknownShape    = errors.New("shapecast: unknown shape variant")
	ErrRequestTooLarge = errors.New("shapecast: request exceeds buffer")
	ErrLinkDown        = errors.New("shapecast: link down")
)

type Point struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// Size is encoded on the wire with the same x/y keys as Point.
type Size struct {
	Width  uint32 `json:"x"`
	Height uint32 `json:"y"`
}

type ShapeKind uint8

const (
	KindTriangle ShapeKind = iota + 1
	KindEllipse
)

func (k ShapeKind) String() string {
	switch k {
	case KindTriangle:
		return "Triangle"
	case KindEllipse:
		return "Ellipse"
	default:
		return "Unknown"
	}
}

type Triangle struct {
	A Point `json:"a"`
	B Point `json:"b"`
	C Point `json:"c"`
}

type Ellipse struct {
	TopLeft Point `json:"top_left"`
	Size    Size  `json:"size"`
}

// Shape is a tagged union; only the field selected by Kind is meaningful.
// It holds no references, so assigning a Shape copies it completely.
type Shape struct {
	Kind     ShapeKind
	Triangle Triangle
	Ellipse  Ellipse
}

func NewTriangle(a, b, c Point) Shape {
	return Shape{Kind: KindTriangle, Triangle: Triangle{A: a, B: b, C: c}}
}

func NewEllipse(topLeft Point, size Size) Shape {
	return Shape{Kind: KindEllipse, Ellipse: Ellipse{TopLeft: topLeft, Size: size}}
}

type ShapeBatch []Shape

// Message is what a subscriber receives: either Value or, when Lagged is
// non-zero, the number of values it missed.
type Message[T any] struct {
	Value  T
	Lagged uint64
}

func (m Message[T]) IsLag() bool {
	return m.Lagged > 0
}

type ConnectivityState int32

const (
	StateDisconnected ConnectivityState = iota
	StateConnecting
	StateConnected
	StateWaitingAfterDisconnect
)

func (s ConnectivityState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateWaitingAfterDisconnect:
		return "waiting-after-disconnect"
	default:
		return "unknown"
	}
}
