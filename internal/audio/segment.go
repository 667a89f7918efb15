package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SegmentPrefix marks files produced by SplitFile.
const SegmentPrefix = "splitted_"

// SplitOptions controls SplitFile.
type SplitOptions struct {
	Seconds    int // segment length
	SampleRate int // resample target; 0 keeps the native rate
}

// IsSegment reports whether the file name was produced by SplitFile.
func IsSegment(path string) bool {
	return strings.HasPrefix(filepath.Base(path), SegmentPrefix)
}

// SegmentBase returns the name segments of a recording are written under:
// the file name up to its first dot, so "A_XC1-song.mp3" gives "A_XC1-song".
func SegmentBase(file string) string {
	base := filepath.Base(file)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

// SegmentName returns the file name of segment index (1-based) out of total.
func SegmentName(name string, index, total int) string {
	return fmt.Sprintf("%s%s_%d_of_%d.wav", SegmentPrefix, name, index, total)
}

// Segment partitions samples into contiguous, non-overlapping segments of
// exactly seconds*sampleRate samples. A trailing partial segment is dropped.
// The returned segments share the backing array of samples.
func Segment(samples []float32, sampleRate, seconds int) [][]float32 {
	size := sampleRate * seconds
	if size <= 0 {
		return nil
	}
	count := len(samples) / size
	out := make([][]float32, count)
	for i := range out {
		out[i] = samples[i*size : (i+1)*size : (i+1)*size]
	}
	return out
}

// SplitFile decodes input and writes each segment to folder as
// splitted_<name>_<i>_of_<n>.wav. It does nothing if name is itself a
// segment or if segments for name already exist in folder. The input file
// is left in place. It returns the number of segments written.
func SplitFile(input, folder, name string, opts SplitOptions) (int, error) {
	if strings.HasPrefix(name, SegmentPrefix) {
		slog.Debug("file already splitted, skipping", "file", input)
		return 0, nil
	}

	done, err := hasSegments(folder, name)
	if err != nil {
		return 0, err
	}
	if done {
		slog.Debug("segments already exist, skipping", "file", input)
		return 0, nil
	}

	clip, err := Decode(input)
	if err != nil {
		return 0, err
	}

	samples, rate := clip.Samples, clip.SampleRate
	if opts.SampleRate > 0 && opts.SampleRate != rate {
		samples = Resample(samples, rate, opts.SampleRate)
		rate = opts.SampleRate
	}

	segments := Segment(samples, rate, opts.Seconds)
	for i, seg := range segments {
		out := filepath.Join(folder, SegmentName(name, i+1, len(segments)))
		if err := WriteWAV(out, seg, rate); err != nil {
			return i, err
		}
	}

	slog.Debug("split recording", "file", input, "segments", len(segments), "duration", clip.Duration())
	return len(segments), nil
}

// hasSegments reports whether folder holds any segment written for name.
func hasSegments(folder, name string) (bool, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return false, fmt.Errorf("audio: list %s: %w", folder, err)
	}
	prefix := SegmentPrefix + name + "_"
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			return true, nil
		}
	}
	return false, nil
}
