package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration.
type Config struct {
	Species        []SpeciesConfig `yaml:"species"`
	PrimarySpecies string          `yaml:"primary_species"` // defaults to the first species
	RecordingsDir  string          `yaml:"recordings_dir"`
	TestList       string          `yaml:"test_list"` // file name inside recordings_dir
	CatalogPath    string          `yaml:"catalog_path"`
	XenoCanto      XenoCantoConfig `yaml:"xeno_canto"`
	Segment        SegmentConfig   `yaml:"segment"`
	Dataset        DatasetConfig   `yaml:"dataset"`
	Train          TrainConfig     `yaml:"train"`
	Export         ExportConfig    `yaml:"export"`
	LogLevel       string          `yaml:"log_level"`
}

// SpeciesConfig describes one class to fetch and train on.
type SpeciesConfig struct {
	Name          string   `yaml:"name"`      // binomial name, e.g. "Fringilla coelebs"
	Qualities     []string `yaml:"qualities"` // xeno-canto quality grades, A (best) to E
	MaxRecordings int      `yaml:"max_recordings"`
}

// XenoCantoConfig holds recordings API settings.
type XenoCantoConfig struct {
	APIURL     string        `yaml:"api_url"`
	APIKey     string        `yaml:"api_key"`
	TypeFilter string        `yaml:"type_filter"`
	Timeout    time.Duration `yaml:"timeout"` // 0 disables the client timeout
}

// SegmentConfig holds clip slicing settings.
type SegmentConfig struct {
	LengthSeconds int `yaml:"length_seconds"`
	SampleRate    int `yaml:"sample_rate"` // 0 keeps the recording's native rate
}

// DatasetConfig holds train/test split settings.
type DatasetConfig struct {
	TestFraction float64 `yaml:"test_fraction"`
	MaxPerClass  int     `yaml:"max_per_class"`
	ClipSamples  int     `yaml:"clip_samples"`
	Seed         int64   `yaml:"seed"` // 0 seeds from the clock
	CSVDir       string  `yaml:"csv_dir"`
}

// TrainConfig holds optimizer settings.
type TrainConfig struct {
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	Workers      int     `yaml:"workers"` // 0 uses every CPU
	ModelPath    string  `yaml:"model_path"`
}

// ExportConfig holds fixed-point code generation settings.
type ExportConfig struct {
	FixedPoint     int    `yaml:"fixed_point"`
	NumberType     string `yaml:"number_type"`
	LongNumberType string `yaml:"long_number_type"`
	NumberMin      int    `yaml:"number_min"`
	NumberMax      int    `yaml:"number_max"`
	OutputPath     string `yaml:"output_path"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "chirpnet")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config reproducing the reference three-species run.
func Default() *Config {
	abc := []string{"A", "B", "C"}
	return &Config{
		Species: []SpeciesConfig{
			{Name: "Fringilla coelebs", Qualities: abc, MaxRecordings: 300},
			{Name: "Sterna hirundo", Qualities: abc, MaxRecordings: 200},
			{Name: "Sylvia atricapilla", Qualities: abc, MaxRecordings: 200},
		},
		RecordingsDir: "recordings",
		TestList:      "testing_list.txt",
		CatalogPath:   filepath.Join("recordings", "catalog.db"),
		XenoCanto: XenoCantoConfig{
			APIURL:     "https://xeno-canto.org/api/2/recordings",
			TypeFilter: "song",
		},
		Segment: SegmentConfig{
			LengthSeconds: 3,
		},
		Dataset: DatasetConfig{
			TestFraction: 0.3,
			MaxPerClass:  2400,
			ClipSamples:  16000,
			CSVDir:       ".",
		},
		Train: TrainConfig{
			Epochs:       5,
			BatchSize:    100,
			LearningRate: 1e-3,
			ModelPath:    "model.json",
		},
		Export: ExportConfig{
			FixedPoint:     9,
			NumberType:     "int16_t",
			LongNumberType: "int32_t",
			NumberMin:      -(1 << 15),
			NumberMax:      (1 << 15) - 1,
			OutputPath:     filepath.Join("src", "utils", "gsc_model.h"),
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Environment overrides are applied afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.RecordingsDir = expandTilde(cfg.RecordingsDir)
	cfg.CatalogPath = expandTilde(cfg.CatalogPath)
	cfg.Train.ModelPath = expandTilde(cfg.Train.ModelPath)
	cfg.Export.OutputPath = expandTilde(cfg.Export.OutputPath)

	return cfg, nil
}

// Resolve loads the config at path. An empty path falls back to
// DefaultConfigPath when that file exists, and to Default otherwise.
// It returns the file that was loaded, or "" for built-in defaults.
func Resolve(path string) (*Config, string, error) {
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath()); err != nil {
			return Default(), "", nil
		}
		path = DefaultConfigPath()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, path, nil
}

// ApplyEnv loads a .env file from the working directory if present and
// overrides config values from the environment.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("CHIRPNET_RECORDINGS_DIR"); v != "" {
		c.RecordingsDir = expandTilde(v)
	}
	if v := os.Getenv("CHIRPNET_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("XENO_CANTO_API_URL"); v != "" {
		c.XenoCanto.APIURL = v
	}
	if v := os.Getenv("XENO_CANTO_API_KEY"); v != "" {
		c.XenoCanto.APIKey = v
	}
}

// Primary returns the species used to calibrate the test-set draw.
func (c *Config) Primary() string {
	if c.PrimarySpecies != "" {
		return c.PrimarySpecies
	}
	if len(c.Species) > 0 {
		return c.Species[0].Name
	}
	return ""
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if len(c.Species) < 2 {
		return fmt.Errorf("species must list at least 2 entries, got %d", len(c.Species))
	}
	primaryFound := false
	for i, s := range c.Species {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("species[%d].name must not be empty", i)
		}
		if len(s.Qualities) == 0 {
			return fmt.Errorf("species[%d].qualities must not be empty", i)
		}
		if s.MaxRecordings <= 0 {
			return fmt.Errorf("species[%d].max_recordings must be > 0", i)
		}
		if s.Name == c.Primary() {
			primaryFound = true
		}
	}
	if !primaryFound {
		return fmt.Errorf("primary_species %q is not in species", c.PrimarySpecies)
	}

	if c.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir must not be empty")
	}
	if c.TestList == "" || strings.ContainsRune(c.TestList, os.PathSeparator) {
		return fmt.Errorf("test_list must be a plain file name, got %q", c.TestList)
	}
	if c.XenoCanto.APIURL == "" {
		return fmt.Errorf("xeno_canto.api_url must not be empty")
	}

	if c.Segment.LengthSeconds <= 0 {
		return fmt.Errorf("segment.length_seconds must be > 0")
	}
	if c.Segment.SampleRate < 0 {
		return fmt.Errorf("segment.sample_rate must be >= 0")
	}

	if c.Dataset.TestFraction <= 0 || c.Dataset.TestFraction >= 1 {
		return fmt.Errorf("dataset.test_fraction must be in (0, 1), got %g", c.Dataset.TestFraction)
	}
	if c.Dataset.MaxPerClass <= 0 {
		return fmt.Errorf("dataset.max_per_class must be > 0")
	}
	if c.Dataset.ClipSamples <= 0 {
		return fmt.Errorf("dataset.clip_samples must be > 0")
	}

	if c.Train.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be > 0")
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("train.batch_size must be > 0")
	}
	if c.Train.LearningRate <= 0 {
		return fmt.Errorf("train.learning_rate must be > 0")
	}
	if c.Train.ModelPath == "" {
		return fmt.Errorf("train.model_path must not be empty")
	}

	if c.Export.FixedPoint < 0 || c.Export.FixedPoint > 15 {
		return fmt.Errorf("export.fixed_point must be in [0, 15], got %d", c.Export.FixedPoint)
	}
	switch c.Export.NumberType {
	case "int8_t", "int16_t":
	default:
		return fmt.Errorf("export.number_type must be int8_t or int16_t, got %q", c.Export.NumberType)
	}
	if c.Export.LongNumberType != "int32_t" {
		return fmt.Errorf("export.long_number_type must be int32_t, got %q", c.Export.LongNumberType)
	}
	if c.Export.NumberMin >= c.Export.NumberMax {
		return fmt.Errorf("export.number_min must be < export.number_max")
	}
	if c.Export.OutputPath == "" {
		return fmt.Errorf("export.output_path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# chirpnet configuration
# Species are fetched from xeno-canto, split into clips, and used as classes
# in the order listed. The first species calibrates the test-set draw unless
# primary_species is set.
`

// WriteDefault writes the default config to DefaultConfigPath if no file exists.
// It returns the written path, or "" if a config was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
