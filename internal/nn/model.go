package nn

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"text/tabwriter"

	"github.com/chaz8081/chirpnet/internal/dataset"
)

// ClipSamples is the input length of BirdNet.
const ClipSamples = 16000

// Model is a sequential stack of layers together with the metadata needed
// to use it on raw clips.
type Model struct {
	Name    string
	RunID   string
	Classes []string
	Norm    dataset.Stats

	input  Shape
	layers []Layer
}

// NewSequential stacks layers behind an input of the given shape. Layers
// without a name are named after their kind, numbered from the second
// occurrence on: conv1d, conv1d_1, ...
func NewSequential(name string, input Shape, layers ...Layer) *Model {
	seen := map[string]int{}
	for _, l := range layers {
		if l.Name() != "" {
			continue
		}
		kind := l.Kind()
		if n := seen[kind]; n > 0 {
			l.SetName(fmt.Sprintf("%s_%d", kind, n))
		} else {
			l.SetName(kind)
		}
		seen[kind]++
	}
	return &Model{Name: name, input: input, layers: layers}
}

// BirdNet returns the unbuilt song classifier for the given number of classes:
//
//	16000x1 -> maxpool 20 -> conv 8x40 relu -> maxpool 4 -> conv 16x3 relu
//	-> maxpool 4 -> conv 32x3 relu -> maxpool 4 -> avgpool 8 -> flatten
//	-> dense -> softmax
func BirdNet(classes int) *Model {
	return NewSequential("sequential", Shape{Channels: 1, Samples: ClipSamples},
		NewMaxPool1D(20),
		NewConv1D(8, 40, ReLU),
		NewMaxPool1D(4),
		NewConv1D(16, 3, ReLU),
		NewMaxPool1D(4),
		NewConv1D(32, 3, ReLU),
		NewMaxPool1D(4),
		NewAvgPool1D(8),
		NewFlatten(),
		NewDense(classes, Linear),
		NewSoftmax(),
	)
}

// Build propagates shapes through the stack and initializes any parameters
// that are not set yet.
func (m *Model) Build(rng *rand.Rand) error {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	shape := m.input
	for _, l := range m.layers {
		out, err := l.Build(shape, rng)
		if err != nil {
			return fmt.Errorf("nn: build %s: %w", l.Name(), err)
		}
		shape = out
	}
	return nil
}

// Input returns the model input shape.
func (m *Model) Input() Shape { return m.input }

// Output returns the model output shape.
func (m *Model) Output() Shape {
	if len(m.layers) == 0 {
		return m.input
	}
	return m.layers[len(m.layers)-1].Output()
}

// Layers returns the layers in order.
func (m *Model) Layers() []Layer { return m.layers }

// ParamCount returns the number of trainable values.
func (m *Model) ParamCount() int {
	n := 0
	for _, l := range m.layers {
		for _, p := range l.Params() {
			n += len(p.Data)
		}
	}
	return n
}

// WithoutSoftmax returns a model sharing this model's layers minus a
// trailing Softmax, so it outputs raw logits.
func (m *Model) WithoutSoftmax() *Model {
	out := *m
	if n := len(m.layers); n > 0 {
		if _, ok := m.layers[n-1].(*Softmax); ok {
			out.layers = m.layers[:n-1:n-1]
		}
	}
	return &out
}

// activations runs x through every layer and returns the input followed by
// each layer's output.
func (m *Model) activations(x []float64) [][]float64 {
	acts := make([][]float64, len(m.layers)+1)
	acts[0] = x
	for i, l := range m.layers {
		acts[i+1] = l.Forward(acts[i])
	}
	return acts
}

// Forward returns the model output for a flat input.
func (m *Model) Forward(x []float64) ([]float64, error) {
	if len(x) != m.input.Size() {
		return nil, fmt.Errorf("%w: input has %d values, want %d", ErrShape, len(x), m.input.Size())
	}
	acts := m.activations(x)
	return acts[len(acts)-1], nil
}

// Predict returns the output for an already normalized clip.
func (m *Model) Predict(clip []float32) ([]float64, error) {
	return m.Forward(toFloat64(clip))
}

// Classify resizes a clip of raw 16-bit PCM values to the input length,
// normalizes it with the model's statistics and returns the output.
func (m *Model) Classify(raw []float32) ([]float64, error) {
	clip := dataset.Resize(raw, m.input.Size())
	m.Norm.Apply(clip)
	return m.Predict(clip)
}

// Summary renders a layer table with output shapes and parameter counts.
func (m *Model) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %q\n", m.Name)
	tw := tabwriter.NewWriter(&sb, 0, 4, 3, ' ', 0)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #")
	for _, l := range m.layers {
		n := 0
		for _, p := range l.Params() {
			n += len(p.Data)
		}
		shape := l.Output().String()
		switch l.(type) {
		case *Flatten, *Dense, *Softmax:
			shape = fmt.Sprintf("(%d)", l.Output().Samples)
		}
		fmt.Fprintf(tw, "%s (%s)\t%s\t%d\n", l.Name(), l.Kind(), shape, n)
	}
	tw.Flush()
	fmt.Fprintf(&sb, "Total params: %d\n", m.ParamCount())
	return sb.String()
}

// ArgMax returns the index of the first largest value.
func ArgMax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}
