// Package nn implements the small 1-D convolutional network used to classify
// bird song clips, together with its training loop.
//
// Activations are stored channel-major: a buffer for Shape{C, L} holds
// channel c at [c*L, (c+1)*L). Layers keep no per-sample state, so a built
// model can run Forward and Backward from several goroutines at once.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrShape is returned when a layer cannot accept its input shape or when
// stored parameters do not match the layer configuration.
var ErrShape = errors.New("nn: shape mismatch")

// Shape is the size of an activation buffer.
type Shape struct {
	Channels int `json:"channels"`
	Samples  int `json:"samples"`
}

// Size returns the number of values in a buffer of this shape.
func (s Shape) Size() int { return s.Channels * s.Samples }

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d)", s.Samples, s.Channels)
}

// Param is one trainable tensor, stored flat.
type Param struct {
	Name string
	Data []float64
}

// Layer is one stage of a Sequential model.
type Layer interface {
	Kind() string
	Name() string
	SetName(name string)

	// Build fixes the input shape, allocates parameters that are not yet
	// set and returns the output shape.
	Build(in Shape, rng *rand.Rand) (Shape, error)
	Input() Shape
	Output() Shape

	// Forward computes the output for input x.
	Forward(x []float64) []float64
	// Backward takes the input x, the output y and the output gradient dy,
	// adds parameter gradients into grads (aligned with Params) and returns
	// the input gradient.
	Backward(x, y, dy []float64, grads [][]float64) []float64

	Params() []*Param
}

// base carries the name and shapes shared by every layer.
type base struct {
	name    string
	in, out Shape
}

func (b *base) Name() string        { return b.name }
func (b *base) SetName(name string) { b.name = name }
func (b *base) Input() Shape        { return b.in }
func (b *base) Output() Shape       { return b.out }

// glorotUniform fills w from U(-l, l) with l = sqrt(6/(fanIn+fanOut)).
func glorotUniform(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// initParam allocates p with n values and fills it with init, unless p
// already holds n values (loaded weights).
func initParam(p *Param, n int, init func([]float64)) error {
	switch len(p.Data) {
	case n:
		return nil
	case 0:
		p.Data = make([]float64, n)
		if init != nil {
			init(p.Data)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s has %d values, want %d", ErrShape, p.Name, len(p.Data), n)
	}
}
