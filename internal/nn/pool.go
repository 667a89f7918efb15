package nn

import (
	"fmt"
	"math/rand/v2"
)

// MaxPool1D takes the maximum over non-overlapping windows of Size samples.
// A partial window at the end is dropped.
type MaxPool1D struct {
	base
	Size int
}

// NewMaxPool1D returns a max pooling layer with stride equal to size.
func NewMaxPool1D(size int) *MaxPool1D { return &MaxPool1D{Size: size} }

func (p *MaxPool1D) Kind() string     { return "max_pooling1d" }
func (p *MaxPool1D) Params() []*Param { return nil }

func (p *MaxPool1D) Build(in Shape, _ *rand.Rand) (Shape, error) {
	out, err := poolShape(in, p.Size)
	if err != nil {
		return Shape{}, err
	}
	p.in, p.out = in, out
	return out, nil
}

func (p *MaxPool1D) Forward(x []float64) []float64 {
	y := make([]float64, p.out.Size())
	for c := 0; c < p.in.Channels; c++ {
		row := x[c*p.in.Samples:]
		for t := 0; t < p.out.Samples; t++ {
			w := row[t*p.Size : (t+1)*p.Size]
			m := w[0]
			for _, v := range w[1:] {
				if v > m {
					m = v
				}
			}
			y[c*p.out.Samples+t] = m
		}
	}
	return y
}

// Backward routes each output gradient to the first maximum of its window.
func (p *MaxPool1D) Backward(x, _, dy []float64, _ [][]float64) []float64 {
	dx := make([]float64, len(x))
	for c := 0; c < p.in.Channels; c++ {
		off := c * p.in.Samples
		for t := 0; t < p.out.Samples; t++ {
			start := off + t*p.Size
			arg := start
			for i := start + 1; i < start+p.Size; i++ {
				if x[i] > x[arg] {
					arg = i
				}
			}
			dx[arg] += dy[c*p.out.Samples+t]
		}
	}
	return dx
}

// AvgPool1D averages non-overlapping windows of Size samples.
type AvgPool1D struct {
	base
	Size int
}

// NewAvgPool1D returns an average pooling layer with stride equal to size.
func NewAvgPool1D(size int) *AvgPool1D { return &AvgPool1D{Size: size} }

func (p *AvgPool1D) Kind() string     { return "average_pooling1d" }
func (p *AvgPool1D) Params() []*Param { return nil }

func (p *AvgPool1D) Build(in Shape, _ *rand.Rand) (Shape, error) {
	out, err := poolShape(in, p.Size)
	if err != nil {
		return Shape{}, err
	}
	p.in, p.out = in, out
	return out, nil
}

func (p *AvgPool1D) Forward(x []float64) []float64 {
	y := make([]float64, p.out.Size())
	inv := 1 / float64(p.Size)
	for c := 0; c < p.in.Channels; c++ {
		row := x[c*p.in.Samples:]
		for t := 0; t < p.out.Samples; t++ {
			var sum float64
			for _, v := range row[t*p.Size : (t+1)*p.Size] {
				sum += v
			}
			y[c*p.out.Samples+t] = sum * inv
		}
	}
	return y
}

func (p *AvgPool1D) Backward(x, _, dy []float64, _ [][]float64) []float64 {
	dx := make([]float64, len(x))
	inv := 1 / float64(p.Size)
	for c := 0; c < p.in.Channels; c++ {
		for t := 0; t < p.out.Samples; t++ {
			g := dy[c*p.out.Samples+t] * inv
			start := c*p.in.Samples + t*p.Size
			for i := start; i < start+p.Size; i++ {
				dx[i] += g
			}
		}
	}
	return dx
}

func poolShape(in Shape, size int) (Shape, error) {
	if size <= 0 {
		return Shape{}, fmt.Errorf("%w: pool size %d", ErrShape, size)
	}
	if in.Samples < size {
		return Shape{}, fmt.Errorf("%w: pool size %d exceeds %d samples", ErrShape, size, in.Samples)
	}
	return Shape{Channels: in.Channels, Samples: (in.Samples-size)/size + 1}, nil
}
