package export

import (
	"fmt"

	"github.com/chaz8081/chirpnet/internal/nn"
)

// Infer runs the integer arithmetic of the generated C code on an input
// that is already quantized. Accumulators are 32-bit and wrap like the C
// long number type; each layer output is clamped to the number range.
func (fm *FixedModel) Infer(x []int32) ([]int32, error) {
	if len(x) != fm.Input.Size() {
		return nil, fmt.Errorf("export: input has %d values, want %d", len(x), fm.Input.Size())
	}
	lo, hi := int32(fm.Opts.NumberMin), int32(fm.Opts.NumberMax)
	shift := uint(fm.Opts.FixedPoint)
	clamp := func(v int32) int32 { return max(lo, min(hi, v)) }
	activate := func(v int32, act string) int32 {
		if act == nn.ReLU && v < 0 {
			return 0
		}
		return clamp(v)
	}

	cur := x
	for _, l := range fm.Layers {
		inL, outL := l.In.Samples, l.Out.Samples
		out := make([]int32, l.Out.Size())

		switch l.Kind {
		case "max_pooling1d":
			for c := 0; c < l.In.Channels; c++ {
				for t := 0; t < outL; t++ {
					w := cur[c*inL+t*l.PoolSize : c*inL+(t+1)*l.PoolSize]
					m := w[0]
					for _, v := range w[1:] {
						if m < v {
							m = v
						}
					}
					out[c*outL+t] = m
				}
			}

		case "average_pooling1d":
			for c := 0; c < l.In.Channels; c++ {
				for t := 0; t < outL; t++ {
					var sum int32
					for _, v := range cur[c*inL+t*l.PoolSize : c*inL+(t+1)*l.PoolSize] {
						sum += v
					}
					out[c*outL+t] = clamp(sum / int32(l.PoolSize))
				}
			}

		case "flatten":
			copy(out, cur)

		case "conv1d":
			chans, k := l.In.Channels, l.KernelSize
			for f := 0; f < l.Filters; f++ {
				for t := 0; t < outL; t++ {
					var acc int32
					for c := 0; c < chans; c++ {
						taps := l.Kernel[(f*chans+c)*k : (f*chans+c+1)*k]
						in := cur[c*inL+t : c*inL+t+k]
						var mac int32
						for j, w := range taps {
							mac += in[j] * w
						}
						acc += mac
					}
					acc = acc>>shift + l.Bias[f]
					out[f*outL+t] = activate(acc, l.Activation)
				}
			}

		case "dense":
			n := l.In.Size()
			for u := 0; u < l.Units; u++ {
				var acc int32
				for z, w := range l.Kernel[u*n : (u+1)*n] {
					acc += w * cur[z]
				}
				acc = acc>>shift + l.Bias[u]
				out[u] = activate(acc, l.Activation)
			}

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLayer, l.Kind)
		}
		cur = out
	}
	return cur, nil
}

// QuantizeInput converts a normalized clip to the model's fixed-point input.
func (fm *FixedModel) QuantizeInput(x []float32) []int32 {
	out := make([]int32, len(x))
	for i, v := range x {
		out[i] = fm.Opts.QuantizeInput(v)
	}
	return out
}

// Classify returns the index of the first largest output for a normalized clip.
func (fm *FixedModel) Classify(x []float32) (int, error) {
	out, err := fm.Infer(fm.QuantizeInput(x))
	if err != nil {
		return 0, err
	}
	best := 0
	for i, v := range out {
		if v > out[best] {
			best = i
		}
	}
	return best, nil
}
