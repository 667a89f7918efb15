package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/chaz8081/chirpnet/internal/audio"
)

// Sample is one fixed-length clip and its class index.
type Sample struct {
	Data  []float32
	Label int
}

// Split holds the train and test samples of a data set.
type Split struct {
	Classes []string
	Train   []Sample
	Test    []Sample
}

// ProcessOptions controls ProcessAudioFiles.
type ProcessOptions struct {
	MaxPerClass int // train samples kept per class; later ones are dropped
	ClipSamples int // every clip is resized to this length
}

// Counts returns the number of samples per class.
func Counts(samples []Sample, classes int) []int {
	out := make([]int, classes)
	for _, s := range samples {
		if s.Label >= 0 && s.Label < classes {
			out[s.Label]++
		}
	}
	return out
}

// ProcessAudioFiles loads every segment below dir whose folder is listed in
// classes. The label is the folder's index in classes. Segments in testing
// go to the test split; the rest go to the train split until a class holds
// MaxPerClass samples. Each clip is read as raw 16-bit PCM values and
// resized to ClipSamples.
func ProcessAudioFiles(ctx context.Context, dir string, classes []string, testing TestSet, opts ProcessOptions) (*Split, error) {
	folders, err := classFolders(dir)
	if err != nil {
		return nil, err
	}

	split := &Split{Classes: classes}
	trainCount := make([]int, len(classes))

	for _, folder := range folders {
		label := slices.Index(classes, folder)
		if label < 0 {
			slog.Debug("folder is not a class, skipping", "folder", folder)
			continue
		}

		files, err := segmentFiles(filepath.Join(dir, folder))
		if err != nil {
			return nil, err
		}

		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			inTest := testing.Contains(path)
			if !inTest && opts.MaxPerClass > 0 && trainCount[label] >= opts.MaxPerClass {
				continue
			}

			raw, _, err := audio.ReadPCM16(path)
			if err != nil {
				return nil, fmt.Errorf("dataset: %w", err)
			}
			s := Sample{Data: Resize(raw, opts.ClipSamples), Label: label}

			if inTest {
				split.Test = append(split.Test, s)
			} else {
				split.Train = append(split.Train, s)
				trainCount[label]++
			}
		}
	}

	slog.Info("dataset loaded",
		"train", len(split.Train), "test", len(split.Test),
		"train_per_class", trainCount, "test_per_class", Counts(split.Test, len(classes)))
	return split, nil
}

// Resize returns exactly n samples: data truncated, or zero-padded at the end.
func Resize(data []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, data)
	return out
}
