// Command chirpnet fetches bird song recordings, trains the song classifier
// and exports it as fixed-point C.
//
// Usage:
//
//	chirpnet [-config path] [-steps download,split,manifest,train,export]
//	chirpnet -init
//	chirpnet -verify
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/chirpnet/internal/catalog"
	"github.com/chaz8081/chirpnet/internal/config"
	"github.com/chaz8081/chirpnet/internal/pipeline"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/chirpnet/config.yaml)")
	steps := flag.String("steps", "all", "comma-separated steps to run: "+strings.Join(pipeline.AllSteps, ","))
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	verify := flag.Bool("verify", false, "rehash catalogued downloads and report changed or missing files")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *verify {
		if err := runVerify(ctx, cfg.CatalogPath); err != nil {
			stop()
			log.Fatalf("verify: %v", err)
		}
		return
	}

	selected, err := pipeline.ParseSteps(*steps)
	if err != nil {
		log.Fatalf("steps: %v", err)
	}

	printBanner(cfg, selected)

	start := time.Now()
	if err := pipeline.New(cfg).Run(ctx, selected); err != nil {
		stop()
		log.Fatalf("ERROR: %v", err)
	}
	log.Printf("Done in %s", time.Since(start).Round(time.Millisecond))
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, src, err := config.Resolve(path)
	if err != nil {
		return nil, err
	}
	if src == "" {
		log.Println("No config file found, using defaults")
	} else {
		log.Printf("Config loaded from %s", src)
	}
	return cfg, nil
}

// runVerify checks every catalogued file against its recorded digest.
func runVerify(ctx context.Context, path string) error {
	store, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	problems, err := store.Verify(ctx)
	if err != nil {
		return err
	}
	n, err := store.Count(ctx)
	if err != nil {
		return err
	}

	for _, p := range problems {
		fmt.Printf("%-7s %s (xeno-canto %s)\n", p.Reason, p.Entry.Path, p.Entry.ID)
	}
	fmt.Printf("%d of %d catalogued files ok\n", n-len(problems), n)
	if len(problems) > 0 {
		return fmt.Errorf("%d files changed or missing", len(problems))
	}
	return nil
}

// printBanner displays the run configuration summary.
func printBanner(cfg *config.Config, steps []string) {
	names := make([]string, len(cfg.Species))
	for i, s := range cfg.Species {
		names[i] = s.Name
	}
	fmt.Println("=== chirpnet ===")
	fmt.Printf("  Steps:     %s\n", strings.Join(steps, ", "))
	fmt.Printf("  Species:   %s (primary: %s)\n", strings.Join(names, ", "), cfg.Primary())
	fmt.Printf("  Data:      %s\n", cfg.RecordingsDir)
	fmt.Printf("  Clips:     %ds, %d samples, max %d per class\n", cfg.Segment.LengthSeconds, cfg.Dataset.ClipSamples, cfg.Dataset.MaxPerClass)
	fmt.Printf("  Training:  %d epochs, batch %d, lr %g\n", cfg.Train.Epochs, cfg.Train.BatchSize, cfg.Train.LearningRate)
	fmt.Printf("  Export:    Q%d %s -> %s\n", cfg.Export.FixedPoint, cfg.Export.NumberType, cfg.Export.OutputPath)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("================")
}
