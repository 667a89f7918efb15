// Command chirp-eval measures the accuracy of the fixed-point model on the
// CSV test dump written by the train step, using the same integer
// arithmetic as the generated C header.
//
// Usage:
//
//	chirp-eval [-config path] [-model model.json] [x_test.csv y_test.csv]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/chaz8081/chirpnet/internal/config"
	"github.com/chaz8081/chirpnet/internal/dataset"
	"github.com/chaz8081/chirpnet/internal/export"
	"github.com/chaz8081/chirpnet/internal/nn"
	"github.com/chaz8081/chirpnet/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/chirpnet/config.yaml)")
	modelPath := flag.String("model", "", "trained model file (default: train.model_path)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [x_test.csv y_test.csv]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, _, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.ApplyEnv()

	xPath := filepath.Join(cfg.Dataset.CSVDir, dataset.XTestFile)
	yPath := filepath.Join(cfg.Dataset.CSVDir, dataset.YTestFile)
	switch flag.NArg() {
	case 0:
	case 2:
		xPath, yPath = flag.Arg(0), flag.Arg(1)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if *modelPath == "" {
		*modelPath = cfg.Train.ModelPath
	}

	model, err := nn.Load(*modelPath)
	if err != nil {
		log.Fatalf("model: %v", err)
	}
	fm, err := export.Quantize(model.WithoutSoftmax(), pipeline.ExportOptions(cfg))
	if err != nil {
		log.Fatalf("quantize: %v", err)
	}

	res, err := export.EvaluateCSV(fm, xPath, yPath)
	if err != nil {
		log.Fatalf("evaluate: %v", err)
	}
	fmt.Printf("Model %s (run %s)\n", *modelPath, model.RunID)
	fmt.Printf("Testing accuracy: %.4f (%d/%d)\n", res.Accuracy, res.Correct, res.Total)
}
