// Package export converts a trained model to fixed-point integers and
// renders it as a self-contained C header for microcontrollers.
package export

import (
	"errors"
	"fmt"
	"math"

	"github.com/chaz8081/chirpnet/internal/nn"
)

// ErrUnsupportedLayer is returned for layers the C generator cannot express.
var ErrUnsupportedLayer = errors.New("export: unsupported layer")

// Options selects the fixed-point representation.
type Options struct {
	FixedPoint     int    // fractional bits
	NumberType     string // C type of weights and activations
	LongNumberType string // C type of accumulators
	NumberMin      int
	NumberMax      int
}

// DefaultOptions returns Q9 values in int16_t with int32_t accumulation.
func DefaultOptions() Options {
	return Options{
		FixedPoint:     9,
		NumberType:     "int16_t",
		LongNumberType: "int32_t",
		NumberMin:      math.MinInt16,
		NumberMax:      math.MaxInt16,
	}
}

// Layer is one quantized layer. Kernel and Bias hold values already scaled
// by 2^FixedPoint and clamped to the number range.
type Layer struct {
	Kind       string
	Name       string
	In, Out    nn.Shape
	PoolSize   int
	Filters    int
	KernelSize int
	Activation string
	Kernel     []int32 // conv: [filter][channel][tap], dense: [unit][input]
	Bias       []int32
}

// FixedModel is a quantized model ready for integer inference or C export.
type FixedModel struct {
	Name    string
	RunID   string
	Classes []string
	Input   nn.Shape
	Output  nn.Shape
	Layers  []Layer
	Opts    Options
}

// Quantize converts m. The model must end in logits: a trailing softmax is
// rejected, use Model.WithoutSoftmax first.
func Quantize(m *nn.Model, opts Options) (*FixedModel, error) {
	if opts.NumberMin >= opts.NumberMax {
		return nil, fmt.Errorf("export: number range [%d, %d] is empty", opts.NumberMin, opts.NumberMax)
	}

	fm := &FixedModel{
		Name:    m.Name,
		RunID:   m.RunID,
		Classes: m.Classes,
		Input:   m.Input(),
		Output:  m.Output(),
		Opts:    opts,
	}

	var prev string
	for _, l := range m.Layers() {
		q := Layer{Kind: l.Kind(), Name: l.Name(), In: l.Input(), Out: l.Output()}
		switch v := l.(type) {
		case *nn.MaxPool1D:
			q.PoolSize = v.Size
		case *nn.AvgPool1D:
			q.PoolSize = v.Size
		case *nn.Flatten:
		case *nn.Conv1D:
			q.Filters, q.KernelSize, q.Activation = v.Filters, v.KernelSize, v.Activation
			q.Kernel = opts.quantizeAll(v.Kernel.Data)
			q.Bias = opts.quantizeAll(v.Bias.Data)
		case *nn.Dense:
			if prev != "flatten" {
				return nil, fmt.Errorf("%w: dense layer %s must follow flatten", ErrUnsupportedLayer, l.Name())
			}
			q.Units, q.Activation = v.Units, v.Activation
			q.Kernel = opts.quantizeAll(v.Kernel.Data)
			q.Bias = opts.quantizeAll(v.Bias.Data)
		default:
			return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedLayer, l.Name(), l.Kind())
		}
		fm.Layers = append(fm.Layers, q)
		prev = q.Kind
	}
	if len(fm.Layers) == 0 {
		return nil, fmt.Errorf("%w: model has no layers", ErrUnsupportedLayer)
	}
	return fm, nil
}

// Quantize rounds w*2^FixedPoint to the nearest integer in the number range.
func (o Options) Quantize(w float64) int32 {
	return o.clamp(math.Round(math.Ldexp(w, o.FixedPoint)))
}

// QuantizeInput converts one input value the way the embedded firmware
// does: scale, truncate toward zero, clamp.
func (o Options) QuantizeInput(x float32) int32 {
	return o.clamp(math.Trunc(math.Ldexp(float64(x), o.FixedPoint)))
}

func (o Options) quantizeAll(ws []float64) []int32 {
	out := make([]int32, len(ws))
	for i, w := range ws {
		out[i] = o.Quantize(w)
	}
	return out
}

func (o Options) clamp(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < float64(o.NumberMin):
		return int32(o.NumberMin)
	case v > float64(o.NumberMax):
		return int32(o.NumberMax)
	}
	return int32(v)
}

// Dequantize returns the real value of a fixed-point number.
func (o Options) Dequantize(v int32) float64 {
	return math.Ldexp(float64(v), -o.FixedPoint)
}
