package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shapes are externally tagged: {"Triangle":{...}} or {"Ellipse":{...}}.

func (s Shape) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindTriangle:
		return json.Marshal(map[string]Triangle{"Triangle": s.Triangle})
	case KindEllipse:
		return json.Marshal(map[string]Ellipse{"Ellipse": s.Ellipse})
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownShape, s.Kind)
	}
}

func (s *Shape) UnmarshalJSON(b []byte) error {
	tagged := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &tagged); err != nil {
		return err
	}

	if len(tagged) != 1 {
		return fmt.Errorf("expected exactly one shape variant, got %d", len(tagged))
	}

	for tag, body := range tagged {
		switch tag {
		case "Triangle":
			t := wireTriangle{}
			if err := decodeStrict(body, &t); err != nil {
				return fmt.Errorf("Triangle: %w", err)
			}

			a, err := t.A.point("a")
			if err != nil {
				return fmt.Errorf("Triangle: %w", err)
			}

			b, err := t.B.point("b")
			if err != nil {
				return fmt.Errorf("Triangle: %w", err)
			}

			c, err := t.C.point("c")
			if err != nil {
				return fmt.Errorf("Triangle: %w", err)
			}

			*s = NewTriangle(a, b, c)
		case "Ellipse":
			e := wireEllipse{}
			if err := decodeStrict(body, &e); err != nil {
				return fmt.Errorf("Ellipse: %w", err)
			}

			topLeft, err := e.TopLeft.point("top_left")
			if err != nil {
				return fmt.Errorf("Ellipse: %w", err)
			}

			size, err := e.Size.size("size")
			if err != nil {
				return fmt.Errorf("Ellipse: %w", err)
			}

			*s = NewEllipse(topLeft, size)
		default:
			return fmt.Errorf("%w %q, expected Triangle or Ellipse", ErrUnknownShape, tag)
		}
	}

	return nil
}

// DecodeShape decodes a single shape from a request body.
func DecodeShape(b []byte) (Shape, error) {
	s := Shape{}
	if err := decodeStrict(b, &s); err != nil {
		return Shape{}, err
	}

	return s, nil
}

// DecodeShapeBatch decodes a JSON array of shapes, preserving order.
func DecodeShapeBatch(b []byte) (ShapeBatch, error) {
	batch := ShapeBatch{}
	if err := decodeStrict(b, &batch); err != nil {
		return nil, err
	}

	if batch == nil {
		return nil, fmt.Errorf("expected an array of shapes")
	}

	return batch, nil
}

func decodeStrict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}

	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}

	return nil
}

type wirePair struct {
	X *int64 `json:"x"`
	Y *int64 `json:"y"`
}

func (p *wirePair) point(field string) (Point, error) {
	if p == nil {
		return Point{}, fmt.Errorf("missing field `%v`", field)
	}

	if p.X == nil || p.Y == nil {
		return Point{}, fmt.Errorf("%v: missing field `x` or `y`", field)
	}

	if int64(int32(*p.X)) != *p.X || int64(int32(*p.Y)) != *p.Y {
		return Point{}, fmt.Errorf("%v: coordinate out of range", field)
	}

	return Point{X: int32(*p.X), Y: int32(*p.Y)}, nil
}

func (p *wirePair) size(field string) (Size, error) {
	if p == nil {
		return Size{}, fmt.Errorf("missing field `%v`", field)
	}

	if p.X == nil || p.Y == nil {
		return Size{}, fmt.Errorf("%v: missing field `x` or `y`", field)
	}

	if *p.X < 0 || *p.Y < 0 || *p.X > int64(^uint32(0)) || *p.Y > int64(^uint32(0)) {
		return Size{}, fmt.Errorf("%v: dimension must be a non-negative 32-bit integer", field)
	}

	return Size{Width: uint32(*p.X), Height: uint32(*p.Y)}, nil
}

type wireTriangle struct {
	A *wirePair `json:"a"`
	B *wirePair `json:"b"`
	C *wirePair `json:"c"`
}

type wireEllipse struct {
	TopLeft *wirePair `json:"top_left"`
	Size    *wirePair `json:"size"`
}
