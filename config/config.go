// ABOUTME: Run configuration: defaults, YAML file, environment overrides and validation
// ABOUTME: Every recognized option of an evaluation run lives here

// Package config holds the options of one evaluation run. Values are
// resolved with priority environment > file > defaults and validated before
// any event is processed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/prateek/heapsnap/abstraction"
	"github.com/prateek/heapsnap/property"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// DefaultExcludedPrefixes are the library class prefixes whose accesses do
// not produce queries.
var DefaultExcludedPrefixes = []string{"java.", "javax.", "sun.", "com.sun.", "com.ibm.", "org.apache.harmony."}

// Config is the full option set of a run.
type Config struct {
	// Verbose controls event logging: 1 logs graph mutations (capped by
	// MaxCommands), 4 thread events, 5 field and allocation events, 6 method
	// entry and exit, 7 finalization
	Verbose int `yaml:"verbose" validate:"gte=0"`

	UseStrongUpdates bool `yaml:"useStrongUpdates"`

	Abstraction  string                 `yaml:"abstraction" validate:"abstraction"`
	KCFA         int                    `yaml:"kCFA" validate:"gte=0"`
	RecencyOrder int                    `yaml:"recencyOrder" validate:"gte=1"`
	RandSize     int                    `yaml:"randSize" validate:"gte=1"`
	RandSeed     int64                  `yaml:"randSeed"`
	Reach        abstraction.ReachFlags `yaml:"reach"`

	Property string `yaml:"property" validate:"property"`

	QueryFrac    float64 `yaml:"queryFrac" validate:"gte=0,lte=1"`
	HitFrac      float64 `yaml:"hitFrac" validate:"gte=0,lte=1"`
	SnapshotFrac float64 `yaml:"snapshotFrac" validate:"gte=0,lte=1"`
	QuerySeed    int64   `yaml:"selectQueryRandom"`
	HitSeed      int64   `yaml:"selectHitRandom"`
	SnapshotSeed int64   `yaml:"selectSnapshotRandom"`

	ExcludedPrefixes  []string `yaml:"exclude" validate:"dive,required"`
	IncludeAllQueries bool     `yaml:"includeAllQueries"`
	IgnoreBadObjects  bool     `yaml:"ignoreBadObjects"`

	// MaxCommands caps the number of graph mutations logged at verbose 1
	MaxCommands int `yaml:"maxCommands" validate:"gte=0"`

	// MaxFieldAccessesToPrint caps field-access log lines per program
	// point; 0 disables the log
	MaxFieldAccessesToPrint int `yaml:"maxFieldAccessesToPrint" validate:"gte=0"`

	// Names is an optional path to a program name table
	Names string `yaml:"names"`

	// TraceFormat forces a decoder; empty detects it
	TraceFormat    string `yaml:"traceFormat" validate:"omitempty,oneof=binary jsonl"`
	MaxTraceErrors int    `yaml:"maxTraceErrors" validate:"gte=0"`

	// OutputDir receives one directory per run; empty writes nothing
	OutputDir   string `yaml:"outputDir"`
	OutputGraph bool   `yaml:"outputGraph"`

	// HistoryDir holds the run history database; empty disables it
	HistoryDir string `yaml:"historyDir"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		UseStrongUpdates: true,
		Abstraction:      "alloc",
		RecencyOrder:     1,
		RandSize:         1,
		Property:         "thread-escape",
		QueryFrac:        1,
		HitFrac:          1,
		SnapshotFrac:     0,
		QuerySeed:        1,
		HitSeed:          1,
		SnapshotSeed:     1,
		ExcludedPrefixes: append([]string(nil), DefaultExcludedPrefixes...),
		MaxCommands:      100000,
		MaxTraceErrors:   100,
	}
}

// Load resolves the configuration: defaults, then the YAML file at path (if
// path is not empty), then HEAPSNAP_* environment variables. The result is
// validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HEAPSNAP_VERBOSE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Verbose = i
		}
	}
	if v := os.Getenv("HEAPSNAP_ABSTRACTION"); v != "" {
		cfg.Abstraction = v
	}
	if v := os.Getenv("HEAPSNAP_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("HEAPSNAP_HISTORY_DIR"); v != "" {
		cfg.HistoryDir = v
	}
}

var validate = newValidator()

// newValidator panics if a custom tag cannot be registered, which only a
// malformed tag name can cause.
func newValidator() *validator.Validate {
	v := validator.New()
	must := func(err error) {
		if err != nil {
			panic(fmt.Sprintf("config: registering validation: %v", err))
		}
	}
	must(v.RegisterValidation("abstraction", func(fl validator.FieldLevel) bool {
		return oneOf(fl.Field().String(), abstraction.Kinds)
	}))
	must(v.RegisterValidation("property", func(fl validator.FieldLevel) bool {
		_, err := property.Parse(fl.Field().String())
		return err == nil
	}))
	return v
}

func oneOf(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// Validate checks every option.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s=%v fails %q", ErrInvalid, fe.Field(), fe.Value(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	n := 0
	for _, set := range []bool{c.Reach.PointedTo, c.Reach.MatchRepeatedFields, c.Reach.MatchFirstField, c.Reach.MatchLastField} {
		if set {
			n++
		}
	}
	if n > 1 {
		return fmt.Errorf("%w: at most one reach pattern flag may be set", ErrInvalid)
	}
	return nil
}

// Params returns the abstraction parameters.
func (c Config) Params() abstraction.Params {
	return abstraction.Params{
		KCFA:         c.KCFA,
		RecencyOrder: c.RecencyOrder,
		RandSize:     c.RandSize,
		RandSeed:     c.RandSeed,
		Reach:        c.Reach,
	}
}
