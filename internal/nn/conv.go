package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Activation names accepted by Conv1D and Dense.
const (
	Linear = "linear"
	ReLU   = "relu"
)

// Conv1D is a valid (unpadded), stride 1 convolution with an optional ReLU.
// The kernel is stored as [filter][channel][tap] and the bias per filter.
type Conv1D struct {
	base
	Filters    int
	KernelSize int
	Activation string

	Kernel Param
	Bias   Param
}

// NewConv1D returns a convolution with the given filters, kernel size and activation.
func NewConv1D(filters, kernelSize int, activation string) *Conv1D {
	return &Conv1D{
		Filters:    filters,
		KernelSize: kernelSize,
		Activation: activation,
		Kernel:     Param{Name: "kernel"},
		Bias:       Param{Name: "bias"},
	}
}

func (l *Conv1D) Kind() string     { return "conv1d" }
func (l *Conv1D) Params() []*Param { return []*Param{&l.Kernel, &l.Bias} }

func (l *Conv1D) Build(in Shape, rng *rand.Rand) (Shape, error) {
	if l.Filters <= 0 || l.KernelSize <= 0 {
		return Shape{}, fmt.Errorf("%w: conv1d %d filters, kernel %d", ErrShape, l.Filters, l.KernelSize)
	}
	if in.Samples < l.KernelSize {
		return Shape{}, fmt.Errorf("%w: kernel %d exceeds %d samples", ErrShape, l.KernelSize, in.Samples)
	}
	if err := checkActivation(l.Activation); err != nil {
		return Shape{}, err
	}

	fanIn, fanOut := in.Channels*l.KernelSize, l.Filters*l.KernelSize
	if err := initParam(&l.Kernel, l.Filters*in.Channels*l.KernelSize, func(w []float64) {
		glorotUniform(w, fanIn, fanOut, rng)
	}); err != nil {
		return Shape{}, err
	}
	if err := initParam(&l.Bias, l.Filters, nil); err != nil {
		return Shape{}, err
	}

	l.in = in
	l.out = Shape{Channels: l.Filters, Samples: in.Samples - l.KernelSize + 1}
	return l.out, nil
}

// tap returns the kernel taps of filter f over channel c.
func (l *Conv1D) tap(f, c int) []float64 {
	off := (f*l.in.Channels + c) * l.KernelSize
	return l.Kernel.Data[off : off+l.KernelSize]
}

func (l *Conv1D) Forward(x []float64) []float64 {
	n, k := l.out.Samples, l.KernelSize
	y := make([]float64, l.out.Size())
	for f := 0; f < l.Filters; f++ {
		row := y[f*n : (f+1)*n]
		for c := 0; c < l.in.Channels; c++ {
			w := l.tap(f, c)
			xc := x[c*l.in.Samples : (c+1)*l.in.Samples]
			for t := range row {
				row[t] += floats.Dot(w, xc[t:t+k])
			}
		}
		b := l.Bias.Data[f]
		for t := range row {
			row[t] += b
			if l.Activation == ReLU && row[t] < 0 {
				row[t] = 0
			}
		}
	}
	return y
}

func (l *Conv1D) Backward(x, y, dy []float64, grads [][]float64) []float64 {
	n, k := l.out.Samples, l.KernelSize
	dKernel, dBias := grads[0], grads[1]
	dx := make([]float64, len(x))
	g := make([]float64, n)

	for f := 0; f < l.Filters; f++ {
		copy(g, dy[f*n:(f+1)*n])
		if l.Activation == ReLU {
			for t, v := range y[f*n : (f+1)*n] {
				if v <= 0 {
					g[t] = 0
				}
			}
		}
		dBias[f] += floats.Sum(g)

		for c := 0; c < l.in.Channels; c++ {
			w := l.tap(f, c)
			xc := x[c*l.in.Samples : (c+1)*l.in.Samples]
			dxc := dx[c*l.in.Samples : (c+1)*l.in.Samples]
			dw := dKernel[(f*l.in.Channels+c)*k : (f*l.in.Channels+c+1)*k]
			for j := range dw {
				dw[j] += floats.Dot(g, xc[j:j+n])
			}
			for t, gt := range g {
				if gt != 0 {
					floats.AddScaled(dxc[t:t+k], gt, w)
				}
			}
		}
	}
	return dx
}

func checkActivation(a string) error {
	switch a {
	case Linear, ReLU:
		return nil
	default:
		return fmt.Errorf("%w: unknown activation %q", ErrShape, a)
	}
}
