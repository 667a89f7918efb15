package export

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/chaz8081/chirpnet/internal/nn"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var headerTmpl = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// layerView is a Layer plus the C expressions the templates need.
type layerView struct {
	Layer
	InDims, OutDims       string
	InputExpr, OutputExpr string
	KernelInit, BiasInit  string
	HasWeights            bool
}

type modelView struct {
	*FixedModel
	Layers    []layerView
	Last      layerView
	Union1    []string
	Union2    []string
	ClassList string
}

// Convert renders fm as a single C header defining one function and weight
// array per layer and a cnn() entry point.
func Convert(fm *FixedModel, w io.Writer) error {
	view, err := newModelView(fm)
	if err != nil {
		return err
	}
	if err := headerTmpl.ExecuteTemplate(w, "model.h.tmpl", view); err != nil {
		return fmt.Errorf("export: render header: %w", err)
	}
	return nil
}

// WriteHeader renders fm to path, creating parent directories.
func WriteHeader(fm *FixedModel, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("export: create dir: %w", err)
	}

	// Render to temp file first, then rename
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", tmpPath, err)
	}
	if err := Convert(fm, f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("export: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("export: rename %s: %w", path, err)
	}
	return nil
}

func newModelView(fm *FixedModel) (*modelView, error) {
	if len(fm.Layers) == 0 {
		return nil, fmt.Errorf("%w: model has no layers", ErrUnsupportedLayer)
	}

	v := &modelView{FixedModel: fm}
	if len(fm.Classes) == fm.Output.Size() {
		quoted := make([]string, len(fm.Classes))
		for i, c := range fm.Classes {
			quoted[i] = strconv.Quote(c)
		}
		v.ClassList = "{" + strings.Join(quoted, ", ") + "}"
	}

	last := len(fm.Layers) - 1
	for i, l := range fm.Layers {
		lv := layerView{
			Layer:   l,
			InDims:  cDims(l.In, l.Kind == "dense"),
			OutDims: cDims(l.Out, l.Kind == "dense" || l.Kind == "flatten"),
		}

		if i == 0 {
			lv.InputExpr = "input"
		} else {
			lv.InputExpr = fmt.Sprintf("activations%d.%s_output", union(i-1), fm.Layers[i-1].Name)
		}
		if i == last {
			lv.OutputExpr = "output"
		} else {
			lv.OutputExpr = fmt.Sprintf("activations%d.%s_output", union(i), l.Name)
			if union(i) == 1 {
				v.Union1 = append(v.Union1, l.Name)
			} else {
				v.Union2 = append(v.Union2, l.Name)
			}
		}

		switch l.Kind {
		case "conv1d":
			lv.HasWeights = true
			lv.KernelInit = cInitializer(l.Kernel, l.Filters, l.In.Channels, l.KernelSize)
			lv.BiasInit = cInitializer(l.Bias, l.Filters)
		case "dense":
			lv.HasWeights = true
			lv.KernelInit = cInitializer(l.Kernel, l.Units, l.In.Size())
			lv.BiasInit = cInitializer(l.Bias, l.Units)
		}
		v.Layers = append(v.Layers, lv)
	}
	v.Last = v.Layers[last]
	return v, nil
}

// union returns which of the two alternating activation buffers holds the
// output of layer i.
func union(i int) int {
	return i%2 + 1
}

// cDims returns the C array dimensions of a buffer, e.g. "[8][761]", or
// "[32]" for a flat one.
func cDims(s nn.Shape, flat bool) string {
	if flat {
		return fmt.Sprintf("[%d]", s.Size())
	}
	return fmt.Sprintf("[%d][%d]", s.Channels, s.Samples)
}

// cInitializer formats vals as a nested C array initializer with the given
// dimensions, one top-level row per line.
func cInitializer(vals []int32, dims ...int) string {
	var sb strings.Builder
	writeInitializer(&sb, vals, dims, 0)
	return sb.String()
}

func writeInitializer(sb *strings.Builder, vals []int32, dims []int, depth int) {
	sb.WriteByte('{')
	if len(dims) == 1 {
		for i, v := range vals[:dims[0]] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Itoa(int(v)))
		}
		sb.WriteByte('}')
		return
	}

	stride := 1
	for _, d := range dims[1:] {
		stride *= d
	}
	for i := 0; i < dims[0]; i++ {
		if i > 0 {
			if depth == 0 {
				sb.WriteString(",\n\t")
			} else {
				sb.WriteString(", ")
			}
		}
		writeInitializer(sb, vals[i*stride:(i+1)*stride], dims[1:], depth+1)
	}
	sb.WriteByte('}')
}
