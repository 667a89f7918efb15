package dataset

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

// ManifestOptions controls CreateTestFile.
type ManifestOptions struct {
	TestFraction float64    // probability that any segment is held out
	Rand         *rand.Rand // nil uses a clock-seeded generator
}

// CreateTestFile draws the held-out test set and writes it to dir/file,
// one path per line.
//
// Every segment is selected with probability TestFraction. The primary
// class is then topped up: with count the number selected so far, each
// primary segment is added with probability 1 - count/|primary segments|
// until more than count/(class folders - 1) have been added. Paths appear
// at most once. It returns the written paths.
func CreateTestFile(dir, primary, file string, opts ManifestOptions) ([]string, error) {
	rng := opts.Rand
	if rng == nil {
		rng = NewRand(0)
	}

	files, err := SoundFiles(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var picked []string
	add := func(path string) bool {
		path = filepath.Clean(path)
		if seen[path] {
			return false
		}
		seen[path] = true
		picked = append(picked, path)
		return true
	}

	for _, f := range files {
		if rng.Float64() < opts.TestFraction {
			add(f)
		}
	}
	count := len(picked)

	folders, err := classFolders(dir)
	if err != nil {
		return nil, err
	}
	primaryFiles, err := segmentFiles(filepath.Join(dir, primary))
	if err != nil {
		return nil, err
	}

	if added, quota := topUp(primaryFiles, count, len(folders), rng, add); added > 0 {
		slog.Debug("primary class topped up", "class", primary, "added", added, "quota", quota)
	}

	path := filepath.Join(dir, file)
	if err := writeLines(path, picked); err != nil {
		return nil, err
	}
	slog.Info("test manifest written", "path", path, "files", len(picked), "segments", len(files))
	return picked, nil
}

// topUp offers each primary segment to add with probability
// 1 - count/len(primary) and stops once more than count/(folders-1) were
// accepted. It returns the number accepted and the quota.
func topUp(primary []string, count, folders int, rng *rand.Rand, add func(string) bool) (int, float64) {
	if len(primary) == 0 || folders < 2 {
		return 0, 0
	}
	ratio := float64(count) / float64(len(primary))
	quota := float64(count) / float64(folders-1)
	added := 0
	for _, f := range primary {
		if float64(added) > quota {
			break
		}
		if rng.Float64() > ratio && add(f) {
			added++
		}
	}
	return added, quota
}

// ReadTestList reads a manifest written by CreateTestFile. Blank lines are ignored.
func ReadTestList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open test list: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read test list: %w", err)
	}
	return out, nil
}

// TestSet indexes manifest paths for membership checks.
type TestSet map[string]bool

// NewTestSet builds a TestSet from manifest lines.
func NewTestSet(paths []string) TestSet {
	s := make(TestSet, len(paths))
	for _, p := range paths {
		s[filepath.Clean(p)] = true
	}
	return s
}

// Contains reports whether path is in the set.
func (s TestSet) Contains(path string) bool {
	return s[filepath.Clean(path)]
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		w.WriteString(l)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("dataset: write %s: %w", path, err)
	}
	return f.Close()
}
