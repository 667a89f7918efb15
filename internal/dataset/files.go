// Package dataset turns a folder tree of segmented recordings into labeled
// train and test splits.
//
// The tree is <root>/<class folder>/splitted_*.wav. Class folders are named
// after the species with spaces replaced by underscores, which is also the
// form used for class names throughout the package.
package dataset

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/chaz8081/chirpnet/internal/audio"
)

// SoundFiles returns every segment file found one level below dir, in
// directory order.
func SoundFiles(dir string) ([]string, error) {
	folders, err := classFolders(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, folder := range folders {
		segs, err := segmentFiles(filepath.Join(dir, folder))
		if err != nil {
			return nil, err
		}
		files = append(files, segs...)
	}
	return files, nil
}

// NewRand returns a generator seeded with seed, or from the clock when seed is 0.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// classFolders lists the sub-directories of dir.
func classFolders(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// segmentFiles lists the segment files in folder as full paths.
func segmentFiles(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("dataset: list %s: %w", folder, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && audio.IsSegment(e.Name()) {
			out = append(out, filepath.Join(folder, e.Name()))
		}
	}
	return out, nil
}
