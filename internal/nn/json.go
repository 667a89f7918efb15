package nn

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/chirpnet/internal/dataset"
)

// modelFile is the on-disk form of a Model.
type modelFile struct {
	Name    string        `json:"name"`
	RunID   string        `json:"run_id"`
	Created time.Time     `json:"created"`
	Classes []string      `json:"classes"`
	Norm    dataset.Stats `json:"normalization"`
	Input   Shape         `json:"input"`
	Layers  []layerSpec   `json:"layers"`
}

// layerSpec describes one layer; only the fields of its kind are set.
type layerSpec struct {
	Kind       string               `json:"kind"`
	Name       string               `json:"name"`
	PoolSize   int                  `json:"pool_size,omitempty"`
	Filters    int                  `json:"filters,omitempty"`
	KernelSize int                  `json:"kernel_size,omitempty"`
	Units      int                  `json:"units,omitempty"`
	Activation string               `json:"activation,omitempty"`
	Weights    map[string][]float64 `json:"weights,omitempty"`
}

func specOf(l Layer) (layerSpec, error) {
	s := layerSpec{Kind: l.Kind(), Name: l.Name()}
	switch v := l.(type) {
	case *MaxPool1D:
		s.PoolSize = v.Size
	case *AvgPool1D:
		s.PoolSize = v.Size
	case *Conv1D:
		s.Filters, s.KernelSize, s.Activation = v.Filters, v.KernelSize, v.Activation
	case *Dense:
		s.Units, s.Activation = v.Units, v.Activation
	case *Flatten:
	case *Softmax:
		s.Activation = "softmax"
	default:
		return s, fmt.Errorf("nn: cannot serialize layer %s of kind %s", l.Name(), l.Kind())
	}
	if ps := l.Params(); len(ps) > 0 {
		s.Weights = make(map[string][]float64, len(ps))
		for _, p := range ps {
			s.Weights[p.Name] = p.Data
		}
	}
	return s, nil
}

func layerFromSpec(s layerSpec) (Layer, error) {
	var l Layer
	switch s.Kind {
	case "max_pooling1d":
		l = NewMaxPool1D(s.PoolSize)
	case "average_pooling1d":
		l = NewAvgPool1D(s.PoolSize)
	case "conv1d":
		l = NewConv1D(s.Filters, s.KernelSize, s.Activation)
	case "dense":
		l = NewDense(s.Units, s.Activation)
	case "flatten":
		l = NewFlatten()
	case "activation":
		if s.Activation != "softmax" {
			return nil, fmt.Errorf("nn: unsupported activation layer %q", s.Activation)
		}
		l = NewSoftmax()
	default:
		return nil, fmt.Errorf("nn: unknown layer kind %q", s.Kind)
	}
	l.SetName(s.Name)
	for _, p := range l.Params() {
		p.Data = s.Weights[p.Name]
	}
	return l, nil
}

// Write encodes the model as JSON. A run id is assigned if the model has none.
func (m *Model) Write(w io.Writer) error {
	if m.RunID == "" {
		m.RunID = uuid.NewString()
	}
	f := modelFile{
		Name:    m.Name,
		RunID:   m.RunID,
		Created: time.Now().UTC(),
		Classes: m.Classes,
		Norm:    m.Norm,
		Input:   m.input,
	}
	for _, l := range m.layers {
		s, err := specOf(l)
		if err != nil {
			return err
		}
		f.Layers = append(f.Layers, s)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("nn: encode model: %w", err)
	}
	return nil
}

// Read decodes and builds a model written by Write.
func Read(r io.Reader) (*Model, error) {
	var f modelFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("nn: decode model: %w", err)
	}
	if _, err := uuid.Parse(f.RunID); err != nil {
		return nil, fmt.Errorf("nn: bad run id %q: %w", f.RunID, err)
	}

	layers := make([]Layer, 0, len(f.Layers))
	for _, s := range f.Layers {
		l, err := layerFromSpec(s)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}

	m := NewSequential(f.Name, f.Input, layers...)
	m.RunID, m.Classes, m.Norm = f.RunID, f.Classes, f.Norm
	for _, l := range layers {
		for _, p := range l.Params() {
			if len(p.Data) == 0 {
				return nil, fmt.Errorf("nn: layer %s has no %s weights", l.Name(), p.Name)
			}
		}
	}
	if err := m.Build(nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes the model to path.
func (m *Model) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nn: create %s: %w", path, err)
	}
	if err := m.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a model from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nn: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}
