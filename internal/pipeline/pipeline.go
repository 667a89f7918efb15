// Package pipeline runs the chirpnet steps in order: download recordings,
// split them into clips, draw the test manifest, train and export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/chirpnet/internal/audio"
	"github.com/chaz8081/chirpnet/internal/catalog"
	"github.com/chaz8081/chirpnet/internal/config"
	"github.com/chaz8081/chirpnet/internal/dataset"
	"github.com/chaz8081/chirpnet/internal/export"
	"github.com/chaz8081/chirpnet/internal/nn"
	"github.com/chaz8081/chirpnet/internal/xenocanto"
)

// Step names in execution order.
const (
	StepDownload = "download"
	StepSplit    = "split"
	StepManifest = "manifest"
	StepTrain    = "train"
	StepExport   = "export"
)

// AllSteps lists every step in the order Run executes them.
var AllSteps = []string{StepDownload, StepSplit, StepManifest, StepTrain, StepExport}

// ParseSteps parses a comma-separated step list. "all" or "" selects every step.
func ParseSteps(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return AllSteps, nil
	}
	var out []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if !isStep(name) {
			return nil, fmt.Errorf("pipeline: unknown step %q (want %s)", name, strings.Join(AllSteps, ", "))
		}
		out = append(out, name)
	}
	return out, nil
}

func isStep(name string) bool {
	for _, s := range AllSteps {
		if s == name {
			return true
		}
	}
	return false
}

// Pipeline holds the configuration and the state passed between steps.
type Pipeline struct {
	cfg      *config.Config
	out      io.Writer
	progress io.Writer
	model    *nn.Model
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProgressOutput sends progress bars to w. Nil disables them.
func WithProgressOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.progress = w }
}

// WithOutput sends the model summary and confusion matrix to w.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// New creates a Pipeline for cfg.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, out: os.Stdout, progress: os.Stderr}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes steps in the fixed pipeline order, regardless of the order
// they are given in.
func (p *Pipeline) Run(ctx context.Context, steps []string) error {
	want := map[string]bool{}
	for _, s := range steps {
		if !isStep(s) {
			return fmt.Errorf("pipeline: unknown step %q", s)
		}
		want[s] = true
	}

	run := map[string]func(context.Context) error{
		StepDownload: p.Download,
		StepSplit:    p.Split,
		StepManifest: p.Manifest,
		StepTrain:    p.Train,
		StepExport:   p.Export,
	}
	for _, name := range AllSteps {
		if !want[name] {
			continue
		}
		start := time.Now()
		slog.Info("step started", "step", name)
		if err := run[name](ctx); err != nil {
			return fmt.Errorf("pipeline: %s: %w", name, err)
		}
		slog.Info("step finished", "step", name, "took", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// Classes returns the class folder names in configured species order.
func Classes(cfg *config.Config) []string {
	out := make([]string, len(cfg.Species))
	for i, s := range cfg.Species {
		out[i] = xenocanto.SpeciesDir(s.Name)
	}
	return out
}

// Download fetches recording metadata per species and downloads every
// selected file, cataloguing each new download.
func (p *Pipeline) Download(ctx context.Context) error {
	store, err := catalog.Open(p.cfg.CatalogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	xc := p.cfg.XenoCanto
	client := xenocanto.NewClient(xc.APIURL, xc.APIKey, xc.TypeFilter, xc.Timeout)
	dl := xenocanto.NewDownloader(p.cfg.RecordingsDir, client.HTTPClient(),
		xenocanto.WithSink(store), xenocanto.WithProgressOutput(p.progress))

	for _, sp := range p.cfg.Species {
		recs, err := client.Recordings(ctx, sp.Name, sp.Qualities, sp.MaxRecordings)
		if err != nil {
			return err
		}
		slog.Info("downloading recordings", "species", sp.Name, "count", len(recs))

		sum, err := dl.DownloadAll(ctx, recs)
		if err != nil {
			return err
		}
		slog.Info("species downloaded", "species", sp.Name,
			"downloaded", sum.Downloaded, "skipped", sum.Skipped, "failed", sum.Failed)
	}

	if n, err := store.Count(ctx); err == nil {
		slog.Info("catalog updated", "path", p.cfg.CatalogPath, "files", n)
	}
	return nil
}

// Split segments every downloaded recording of the configured species.
// Files that are not audio are skipped.
func (p *Pipeline) Split(ctx context.Context) error {
	opts := audio.SplitOptions{Seconds: p.cfg.Segment.LengthSeconds, SampleRate: p.cfg.Segment.SampleRate}

	for _, class := range Classes(p.cfg) {
		folder := filepath.Join(p.cfg.RecordingsDir, class)
		entries, err := os.ReadDir(folder)
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("no recordings for species", "folder", folder)
			continue
		}
		if err != nil {
			return fmt.Errorf("list %s: %w", folder, err)
		}

		total := 0
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := e.Name()
			if !e.Type().IsRegular() || audio.IsSegment(name) || !audio.Supported(name) {
				continue
			}
			n, err := audio.SplitFile(filepath.Join(folder, name), folder, audio.SegmentBase(name), opts)
			if err != nil {
				return err
			}
			total += n
		}
		slog.Info("species split", "species", class, "segments_written", total)
	}
	return nil
}

// Manifest draws the held-out test set.
func (p *Pipeline) Manifest(_ context.Context) error {
	_, err := dataset.CreateTestFile(p.cfg.RecordingsDir, xenocanto.SpeciesDir(p.cfg.Primary()), p.cfg.TestList,
		dataset.ManifestOptions{
			TestFraction: p.cfg.Dataset.TestFraction,
			Rand:         dataset.NewRand(p.cfg.Dataset.Seed),
		})
	return err
}

// Train builds the data set, dumps the normalized test split to CSV, trains
// the network and saves it.
func (p *Pipeline) Train(ctx context.Context) error {
	if p.cfg.Dataset.ClipSamples != nn.ClipSamples {
		return fmt.Errorf("model input is %d samples, dataset.clip_samples is %d", nn.ClipSamples, p.cfg.Dataset.ClipSamples)
	}
	classes := Classes(p.cfg)
	testList, err := dataset.ReadTestList(filepath.Join(p.cfg.RecordingsDir, p.cfg.TestList))
	if err != nil {
		return err
	}

	split, err := dataset.ProcessAudioFiles(ctx, p.cfg.RecordingsDir, classes, dataset.NewTestSet(testList),
		dataset.ProcessOptions{MaxPerClass: p.cfg.Dataset.MaxPerClass, ClipSamples: p.cfg.Dataset.ClipSamples})
	if err != nil {
		return err
	}
	if len(split.Train) == 0 {
		return fmt.Errorf("no training clips under %s", p.cfg.RecordingsDir)
	}

	stats := dataset.Normalize(split.Train, split.Test)
	slog.Info("normalized", "mean", stats.Mean, "std", stats.Std)

	if err := dataset.WriteCSV(p.cfg.Dataset.CSVDir, split.Test, len(classes)); err != nil {
		return err
	}

	model := nn.BirdNet(len(classes))
	rng := dataset.NewRand(p.cfg.Dataset.Seed)
	if err := model.Build(rng); err != nil {
		return err
	}
	model.Classes, model.Norm = classes, stats
	fmt.Fprint(p.out, model.Summary())

	tc := p.cfg.Train
	_, err = model.Fit(ctx, split.Train, split.Test, nn.TrainOptions{
		Epochs:       tc.Epochs,
		BatchSize:    tc.BatchSize,
		LearningRate: tc.LearningRate,
		Workers:      tc.Workers,
		Rand:         rng,
		Progress:     p.progress,
	})
	if err != nil {
		return err
	}

	ev, err := model.Evaluate(ctx, split.Test, tc.Workers)
	if err != nil {
		return err
	}
	labels := make([]int, len(split.Test))
	for i, s := range split.Test {
		labels[i] = s.Label
	}
	cm := nn.ConfusionMatrix(len(classes), labels, ev.Predictions)
	slog.Info("test evaluation", "loss", ev.Loss, "accuracy", ev.Accuracy)
	fmt.Fprintf(p.out, "Confusion matrix (rows true, columns predicted):\n%s\n", nn.FormatConfusion(cm))

	if err := model.Save(tc.ModelPath); err != nil {
		return err
	}
	slog.Info("model saved", "path", tc.ModelPath, "run_id", model.RunID)
	p.model = model
	return nil
}

// ExportOptions converts the export section of cfg.
func ExportOptions(cfg *config.Config) export.Options {
	e := cfg.Export
	return export.Options{
		FixedPoint:     e.FixedPoint,
		NumberType:     e.NumberType,
		LongNumberType: e.LongNumberType,
		NumberMin:      e.NumberMin,
		NumberMax:      e.NumberMax,
	}
}

// Export quantizes the trained model without its softmax, writes the C
// header and, when the CSV test dump exists, reports fixed-point accuracy.
func (p *Pipeline) Export(ctx context.Context) error {
	model := p.model
	if model == nil {
		m, err := nn.Load(p.cfg.Train.ModelPath)
		if err != nil {
			return err
		}
		model = m
	}

	fm, err := export.Quantize(model.WithoutSoftmax(), ExportOptions(p.cfg))
	if err != nil {
		return err
	}
	if err := export.WriteHeader(fm, p.cfg.Export.OutputPath); err != nil {
		return err
	}
	slog.Info("C model written", "path", p.cfg.Export.OutputPath, "fixed_point", fm.Opts.FixedPoint)

	xPath := filepath.Join(p.cfg.Dataset.CSVDir, dataset.XTestFile)
	yPath := filepath.Join(p.cfg.Dataset.CSVDir, dataset.YTestFile)
	if _, err := os.Stat(xPath); err != nil {
		return nil
	}
	res, err := export.EvaluateCSV(fm, xPath, yPath)
	if err != nil {
		return err
	}
	slog.Info("fixed-point test accuracy", "correct", res.Correct, "total", res.Total, "accuracy", res.Accuracy)
	return nil
}
