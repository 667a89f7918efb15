package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// CSV file names read by the embedded evaluator.
const (
	XTestFile = "x_test.csv"
	YTestFile = "y_test.csv"
)

// WriteCSV writes samples to dir as x_test.csv (one flattened clip per row)
// and y_test.csv (one one-hot label row per clip).
func WriteCSV(dir string, samples []Sample, classes int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("dataset: create %s: %w", dir, err)
	}

	x := make([][]string, len(samples))
	y := make([][]string, len(samples))
	for i, s := range samples {
		row := make([]string, len(s.Data))
		for j, v := range s.Data {
			row[j] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		x[i] = row

		onehot := make([]string, classes)
		for j := range onehot {
			onehot[j] = "0"
		}
		if s.Label >= 0 && s.Label < classes {
			onehot[s.Label] = "1"
		}
		y[i] = onehot
	}

	if err := writeCSV(filepath.Join(dir, XTestFile), x); err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, YTestFile), y)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("dataset: write %s: %w", path, err)
	}
	return f.Close()
}
