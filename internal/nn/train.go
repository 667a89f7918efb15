package nn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"gonum.org/v1/gonum/floats"

	"github.com/chaz8081/chirpnet/internal/dataset"
	"github.com/chaz8081/chirpnet/internal/parallel"
)

// probClip bounds probabilities inside the log of the cross-entropy loss.
const probClip = 1e-7

// TrainOptions controls Fit.
type TrainOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Workers      int        // 0 uses every CPU
	Rand         *rand.Rand // shuffling; nil uses a random seed
	Progress     io.Writer  // progress bars; nil disables them
}

// EpochStats is the outcome of one training epoch.
type EpochStats struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	Duration    time.Duration
}

// Fit trains the model with Adam on categorical cross-entropy. The train
// set is shuffled every epoch; val, if not empty, is evaluated after each
// epoch. Gradients of a batch are computed on up to Workers goroutines.
func (m *Model) Fit(ctx context.Context, train, val []dataset.Sample, opts TrainOptions) ([]EpochStats, error) {
	if len(train) == 0 {
		return nil, fmt.Errorf("nn: fit: empty training set")
	}
	if opts.BatchSize <= 0 || opts.Epochs <= 0 {
		return nil, fmt.Errorf("nn: fit: epochs and batch size must be > 0")
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	workers := parallel.Workers(opts.Workers)

	params := m.params()
	grads := make([][][]float64, workers)
	for w := range grads {
		grads[w] = m.gradBuffers()
	}
	losses := make([]float64, workers)
	hits := make([]int, workers)
	adam := NewAdam(opts.LearningRate)

	batches := (len(train) + opts.BatchSize - 1) / opts.BatchSize
	progress := mpb.New(mpb.WithOutput(opts.Progress), mpb.WithWidth(40))
	defer progress.Wait()

	var history []EpochStats
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		start := time.Now()
		bar := progress.AddBar(int64(batches),
			mpb.PrependDecorators(decor.Name(fmt.Sprintf("epoch %d/%d", epoch, opts.Epochs), decor.WCSyncSpaceR)),
			mpb.AppendDecorators(decor.CountersNoUnit("%d/%d", decor.WCSyncSpace), decor.AverageETA(decor.ET_STYLE_GO, decor.WCSyncSpace)),
			mpb.BarRemoveOnComplete(),
		)

		order := rng.Perm(len(train))
		var epochLoss float64
		var epochHits int

		for b := 0; b < batches; b++ {
			if err := ctx.Err(); err != nil {
				bar.Abort(true)
				return history, err
			}

			batch := order[b*opts.BatchSize : min((b+1)*opts.BatchSize, len(order))]
			chunks := parallel.Chunks(len(batch), workers)
			parallel.ForEach(len(chunks), workers, func(w int) {
				zero(grads[w])
				losses[w], hits[w] = 0, 0
				for _, idx := range batch[chunks[w][0]:chunks[w][1]] {
					loss, ok := m.backprop(train[idx], grads[w])
					losses[w] += loss
					if ok {
						hits[w]++
					}
				}
			})

			total := grads[0]
			for w := 1; w < len(chunks); w++ {
				for i := range total {
					floats.Add(total[i], grads[w][i])
				}
			}
			for i := range total {
				floats.Scale(1/float64(len(batch)), total[i])
			}
			adam.Step(params, total)

			for w := range chunks {
				epochLoss += losses[w]
				epochHits += hits[w]
			}
			bar.Increment()
		}

		st := EpochStats{
			Epoch:    epoch,
			Loss:     epochLoss / float64(len(train)),
			Accuracy: float64(epochHits) / float64(len(train)),
		}
		if len(val) > 0 {
			ev, err := m.Evaluate(ctx, val, workers)
			if err != nil {
				return history, err
			}
			st.ValLoss, st.ValAccuracy = ev.Loss, ev.Accuracy
		}
		st.Duration = time.Since(start)
		history = append(history, st)

		slog.Info("epoch finished",
			"epoch", epoch, "loss", st.Loss, "accuracy", st.Accuracy,
			"val_loss", st.ValLoss, "val_accuracy", st.ValAccuracy, "took", st.Duration.Round(time.Millisecond))
	}
	return history, nil
}

// Evaluation is the outcome of Evaluate.
type Evaluation struct {
	Loss        float64
	Accuracy    float64
	Predictions []int
}

// Evaluate returns the mean cross-entropy loss, the accuracy and the
// predicted class of every sample.
func (m *Model) Evaluate(ctx context.Context, samples []dataset.Sample, workers int) (Evaluation, error) {
	ev := Evaluation{Predictions: make([]int, len(samples))}
	if len(samples) == 0 {
		return ev, nil
	}
	workers = parallel.Workers(workers)

	chunks := parallel.Chunks(len(samples), workers)
	losses := make([]float64, len(chunks))
	hits := make([]int, len(chunks))
	parallel.ForEach(len(chunks), workers, func(w int) {
		for i := chunks[w][0]; i < chunks[w][1]; i++ {
			if ctx.Err() != nil {
				return
			}
			s := samples[i]
			probs := m.probabilities(m.activations(toFloat64(s.Data)))
			losses[w] += crossEntropy(probs, s.Label)
			ev.Predictions[i] = ArgMax(probs)
			if ev.Predictions[i] == s.Label {
				hits[w]++
			}
		}
	})
	if err := ctx.Err(); err != nil {
		return ev, err
	}

	ev.Loss = floats.Sum(losses) / float64(len(samples))
	total := 0
	for _, h := range hits {
		total += h
	}
	ev.Accuracy = float64(total) / float64(len(samples))
	return ev, nil
}

// backprop adds the gradients of one sample into grads and returns its loss
// and whether it was classified correctly.
func (m *Model) backprop(s dataset.Sample, grads [][]float64) (float64, bool) {
	acts := m.activations(toFloat64(s.Data))
	probs := m.probabilities(acts)

	// Softmax followed by cross-entropy has gradient p - onehot on the logits.
	dy := append([]float64(nil), probs...)
	dy[s.Label]--

	last := len(m.layers) - 1
	if m.endsWithSoftmax() {
		last--
	}

	offsets := m.paramOffsets()
	for i := last; i >= 0; i-- {
		l := m.layers[i]
		g := grads[offsets[i] : offsets[i]+len(l.Params())]
		dy = l.Backward(acts[i], acts[i+1], dy, g)
	}
	return crossEntropy(probs, s.Label), ArgMax(probs) == s.Label
}

// probabilities returns class probabilities from a forward pass, applying
// softmax when the model outputs logits.
func (m *Model) probabilities(acts [][]float64) []float64 {
	out := acts[len(acts)-1]
	if m.endsWithSoftmax() {
		return out
	}
	return softmax(out)
}

func (m *Model) endsWithSoftmax() bool {
	if len(m.layers) == 0 {
		return false
	}
	_, ok := m.layers[len(m.layers)-1].(*Softmax)
	return ok
}

// params returns every parameter of the model in layer order.
func (m *Model) params() []*Param {
	var out []*Param
	for _, l := range m.layers {
		out = append(out, l.Params()...)
	}
	return out
}

// paramOffsets returns, per layer, the index of its first parameter in params().
func (m *Model) paramOffsets() []int {
	offsets := make([]int, len(m.layers))
	n := 0
	for i, l := range m.layers {
		offsets[i] = n
		n += len(l.Params())
	}
	return offsets
}

// gradBuffers allocates one zeroed gradient slice per parameter.
func (m *Model) gradBuffers() [][]float64 {
	params := m.params()
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = make([]float64, len(p.Data))
	}
	return out
}

func crossEntropy(probs []float64, label int) float64 {
	p := math.Min(math.Max(probs[label], probClip), 1-probClip)
	return -math.Log(p)
}

func zero(bufs [][]float64) {
	for _, b := range bufs {
		clear(b)
	}
}

// Adam implements the Adam optimizer with bias correction folded into the
// step size.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	t    int
	m, v [][]float64
}

// NewAdam returns Adam with beta1 0.9, beta2 0.999 and epsilon 1e-7.
func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

// Step applies one update to params from grads, which must be aligned.
func (a *Adam) Step(params []*Param, grads [][]float64) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p.Data))
			a.v[i] = make([]float64, len(p.Data))
		}
	}
	a.t++
	t := float64(a.t)
	alpha := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for i, p := range params {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range p.Data {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			p.Data[j] -= alpha * m[j] / (math.Sqrt(v[j]) + a.Epsilon)
		}
	}
}
