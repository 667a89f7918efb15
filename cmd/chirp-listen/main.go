// Command chirp-listen records from the default microphone and classifies
// each clip with a trained model.
//
// Usage:
//
//	chirp-listen [-config path] [-model model.json] [-seconds 3] [-rate 44100] [-loop] [-fixed]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/chirpnet/internal/audio"
	"github.com/chaz8081/chirpnet/internal/config"
	"github.com/chaz8081/chirpnet/internal/dataset"
	"github.com/chaz8081/chirpnet/internal/export"
	"github.com/chaz8081/chirpnet/internal/nn"
	"github.com/chaz8081/chirpnet/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/chirpnet/config.yaml)")
	modelPath := flag.String("model", "", "trained model file (default: train.model_path)")
	seconds := flag.Float64("seconds", 3, "clip length to record")
	rate := flag.Int("rate", 44100, "capture sample rate; match the rate of the training recordings")
	loop := flag.Bool("loop", false, "keep recording until interrupted")
	fixed := flag.Bool("fixed", false, "also classify with the fixed-point model built from the export settings")
	flag.Parse()

	cfg, _, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.ApplyEnv()
	if *modelPath == "" {
		*modelPath = cfg.Train.ModelPath
	}

	model, err := nn.Load(*modelPath)
	if err != nil {
		log.Fatalf("model: %v", err)
	}

	var fm *export.FixedModel
	if *fixed {
		fm, err = export.Quantize(model.WithoutSoftmax(), pipeline.ExportOptions(cfg))
		if err != nil {
			log.Fatalf("quantize: %v", err)
		}
	}

	recorder, err := audio.NewRecorder(uint32(*rate))
	if err != nil {
		log.Fatalf("Failed to initialize audio recorder: %v\n\nEnsure microphone access is granted.", err)
	}
	defer recorder.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := time.Duration(*seconds * float64(time.Second))
	log.Printf("Listening for %s per clip (classes: %v). Ctrl+C to quit.", d, model.Classes)

	for {
		clip, err := recorder.Record(ctx, d)
		if errors.Is(err, context.Canceled) {
			log.Println("Goodbye!")
			return
		}
		if err != nil {
			log.Fatalf("record: %v", err)
		}

		// Training clips hold raw 16-bit PCM values.
		raw := make([]float32, len(clip.Samples))
		for i, s := range clip.Samples {
			raw[i] = float32(math.Round(float64(s) * math.MaxInt16))
		}

		probs, err := model.Classify(raw)
		if err != nil {
			log.Fatalf("classify: %v", err)
		}
		best := nn.ArgMax(probs)
		fmt.Printf("%s  %.1f%%", label(model, best), 100*probs[best])
		for i, p := range probs {
			fmt.Printf("  [%s %.2f]", label(model, i), p)
		}

		if fm != nil {
			in := dataset.Resize(raw, model.Input().Size())
			model.Norm.Apply(in)
			cls, err := fm.Classify(in)
			if err != nil {
				log.Fatalf("fixed-point classify: %v", err)
			}
			fmt.Printf("  fixed-point: %s", label(model, cls))
		}
		fmt.Println()

		if !*loop {
			return
		}
	}
}

func label(m *nn.Model, i int) string {
	if i < len(m.Classes) {
		return m.Classes[i]
	}
	return fmt.Sprintf("class %d", i)
}
