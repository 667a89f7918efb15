package dataset

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Stats holds the normalization applied to model inputs.
type Stats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Apply normalizes x in place.
func (s Stats) Apply(x []float32) {
	std := s.Std
	if std == 0 {
		std = 1
	}
	for i, v := range x {
		x[i] = float32((float64(v) - s.Mean) / std)
	}
}

// ComputeStats returns the population mean and standard deviation over every
// value of every sample.
func ComputeStats(samples []Sample) Stats {
	var (
		n     float64
		means []float64
		vars  []float64
		sizes []float64
		buf   []float64
	)
	for _, s := range samples {
		if len(s.Data) == 0 {
			continue
		}
		buf = buf[:0]
		for _, v := range s.Data {
			buf = append(buf, float64(v))
		}
		m, v := stat.PopMeanVariance(buf, nil)
		means = append(means, m)
		vars = append(vars, v)
		sizes = append(sizes, float64(len(s.Data)))
		n += float64(len(s.Data))
	}
	if n == 0 {
		return Stats{Std: 1}
	}

	mean := stat.Mean(means, sizes)
	// Total variance is the weighted within-sample variance plus the
	// weighted spread of the sample means.
	var total float64
	for i := range means {
		d := means[i] - mean
		total += sizes[i] * (vars[i] + d*d)
	}
	return Stats{Mean: mean, Std: math.Sqrt(total / n)}
}

// Normalize standardizes train and test with statistics taken from train
// alone and returns them.
func Normalize(train, test []Sample) Stats {
	st := ComputeStats(train)
	for _, s := range train {
		st.Apply(s.Data)
	}
	for _, s := range test {
		st.Apply(s.Data)
	}
	return st
}
