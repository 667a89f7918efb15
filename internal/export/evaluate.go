package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Result is the outcome of EvaluateCSV.
type Result struct {
	Total    int
	Correct  int
	Accuracy float64
}

// ReadCSV reads a file of comma-separated float rows.
func ReadCSV(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var rows [][]float32
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("export: read %s: %w", path, err)
		}
		row := make([]float32, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, fmt.Errorf("export: %s line %d: %w", path, line, err)
			}
			row[i] = float32(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EvaluateCSV classifies every row of xPath with the fixed-point model and
// compares the prediction against the one-hot row of yPath. Accuracy is
// taken over the number of inputs.
func EvaluateCSV(fm *FixedModel, xPath, yPath string) (Result, error) {
	xs, err := ReadCSV(xPath)
	if err != nil {
		return Result{}, err
	}
	ys, err := ReadCSV(yPath)
	if err != nil {
		return Result{}, err
	}

	res := Result{Total: len(xs)}
	for i := 0; i < len(xs) && i < len(ys); i++ {
		if len(xs[i]) != fm.Input.Size() {
			return res, fmt.Errorf("export: %s row %d has %d values, want %d", xPath, i+1, len(xs[i]), fm.Input.Size())
		}
		cls, err := fm.Classify(xs[i])
		if err != nil {
			return res, err
		}
		if cls < len(ys[i]) && ys[i][cls] > 0 {
			res.Correct++
		}
	}
	if res.Total > 0 {
		res.Accuracy = float64(res.Correct) / float64(res.Total)
	}
	return res, nil
}
