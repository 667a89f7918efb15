package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Flatten reshapes its input to a single row. Values keep their
// channel-major order.
type Flatten struct {
	base
}

// NewFlatten returns a Flatten layer.
func NewFlatten() *Flatten { return &Flatten{} }

func (l *Flatten) Kind() string     { return "flatten" }
func (l *Flatten) Params() []*Param { return nil }

func (l *Flatten) Build(in Shape, _ *rand.Rand) (Shape, error) {
	l.in = in
	l.out = Shape{Channels: 1, Samples: in.Size()}
	return l.out, nil
}

func (l *Flatten) Forward(x []float64) []float64 {
	return append([]float64(nil), x...)
}

func (l *Flatten) Backward(_, _, dy []float64, _ [][]float64) []float64 {
	return append([]float64(nil), dy...)
}

// Dense is a fully connected layer over a flat input. The kernel is
// stored as [unit][input].
type Dense struct {
	base
	Units      int
	Activation string

	Kernel Param
	Bias   Param
}

// NewDense returns a fully connected layer.
func NewDense(units int, activation string) *Dense {
	return &Dense{
		Units:      units,
		Activation: activation,
		Kernel:     Param{Name: "kernel"},
		Bias:       Param{Name: "bias"},
	}
}

func (l *Dense) Kind() string     { return "dense" }
func (l *Dense) Params() []*Param { return []*Param{&l.Kernel, &l.Bias} }

func (l *Dense) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if l.Units <= 0 {
		return Shape{}, fmt.Errorf("%w: dense with %d units", ErrShape, l.Units)
	}
	if in.Channels != 1 {
		return Shape{}, fmt.Errorf("%w: dense needs a flat input, got %v", ErrShape, in)
	}
	if err := checkActivation(l.Activation); err != nil {
		return Shape{}, err
	}

	n := in.Size()
	if err := initParam(&l.Kernel, l.Units*n, func(w []float64) {
		glorotUniform(w, n, l.Units, rng)
	}); err != nil {
		return Shape{}, err
	}
	if err := initParam(&l.Bias, l.Units, nil); err != nil {
		return Shape{}, err
	}

	l.in = in
	l.out = Shape{Channels: 1, Samples: l.Units}
	return l.out, nil
}

func (l *Dense) row(u int) []float64 {
	n := l.in.Size()
	return l.Kernel.Data[u*n : (u+1)*n]
}

func (l *Dense) Forward(x []float64) []float64 {
	y := make([]float64, l.Units)
	for u := range y {
		y[u] = floats.Dot(l.row(u), x) + l.Bias.Data[u]
		if l.Activation == ReLU && y[u] < 0 {
			y[u] = 0
		}
	}
	return y
}

func (l *Dense) Backward(x, y, dy []float64, grads [][]float64) []float64 {
	n := l.in.Size()
	dKernel, dBias := grads[0], grads[1]
	dx := make([]float64, n)
	for u := 0; u < l.Units; u++ {
		g := dy[u]
		if l.Activation == ReLU && y[u] <= 0 {
			g = 0
		}
		if g == 0 {
			continue
		}
		dBias[u] += g
		floats.AddScaled(dKernel[u*n:(u+1)*n], g, x)
		floats.AddScaled(dx, g, l.row(u))
	}
	return dx
}

// Softmax turns logits into class probabilities.
type Softmax struct {
	base
}

// NewSoftmax returns a softmax activation layer.
func NewSoftmax() *Softmax { return &Softmax{} }

func (l *Softmax) Kind() string     { return "activation" }
func (l *Softmax) Params() []*Param { return nil }

func (l *Softmax) Build(in Shape, _ *rand.Rand) (Shape, error) {
	l.in, l.out = in, in
	return in, nil
}

func (l *Softmax) Forward(x []float64) []float64 {
	return softmax(x)
}

func (l *Softmax) Backward(_, y, dy []float64, _ [][]float64) []float64 {
	dot := floats.Dot(y, dy)
	dx := make([]float64, len(y))
	for i := range dx {
		dx[i] = y[i] * (dy[i] - dot)
	}
	return dx
}

func softmax(x []float64) []float64 {
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	m := floats.Max(x)
	var sum float64
	for i, v := range x {
		y[i] = math.Exp(v - m)
		sum += y[i]
	}
	floats.Scale(1/sum, y)
	return y
}
