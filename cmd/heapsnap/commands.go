// ABOUTME: Command tree and shared flags of the heapsnap CLI
// ABOUTME: Flags override the configuration file, which overrides the defaults

package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prateek/heapsnap/config"
	"github.com/prateek/heapsnap/program"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "heapsnap",
		Short: "Evaluate heap abstractions against recorded execution traces",
		Long: `heapsnap replays a trace of heap events, keeps an abstraction of the
concrete heap up to date and measures how precisely it answers
thread-escape queries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}

	runCmd = &cobra.Command{
		Use:   "run [trace]",
		Short: "Evaluate one abstraction on a trace",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluation, // cmd_run.go
	}

	compareCmd = &cobra.Command{
		Use:   "compare [trace]",
		Short: "Evaluate several abstractions on the same trace side by side",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompare, // cmd_compare.go
	}

	convertCmd = &cobra.Command{
		Use:   "convert [input] [output]",
		Short: "Re-encode a trace in another format",
		Args:  cobra.ExactArgs(2),
		RunE:  runConvert, // cmd_convert.go
	}

	historyCmd = &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or show one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory, // cmd_history.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run:   runVersion, // cmd_history.go
	}
)

// Evaluation flags shared by run and compare.
var (
	flagVerbose       int
	flagAbstraction   string
	flagKCFA          int
	flagRecencyOrder  int
	flagRandSize      int
	flagQueryFrac     float64
	flagHitFrac       float64
	flagSnapshotFrac  float64
	flagStrong        bool
	flagIncludeAll    bool
	flagIgnoreBad     bool
	flagNames         string
	flagFormat        string
	flagOutputDir     string
	flagOutputGraph   bool
	flagHistoryDir    string
	flagAbstractions  []string
	flagConvertTo     string
	flagHistoryLimit  int
	flagMaxFieldsLog  int
	flagMaxTraceError int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagHistoryDir, "history-dir", "", "run history database directory")

	for _, cmd := range []*cobra.Command{runCmd, compareCmd} {
		f := cmd.Flags()
		f.IntVarP(&flagVerbose, "verbose", "v", 0, "event logging verbosity (0-7)")
		f.IntVar(&flagKCFA, "kcfa", 0, "call sites of context in allocation keys")
		f.IntVar(&flagRecencyOrder, "recency-order", 1, "objects per value kept distinct by the recency abstraction")
		f.IntVar(&flagRandSize, "rand-size", 1, "number of values of the random abstraction")
		f.Float64Var(&flagQueryFrac, "query-frac", 1, "fraction of queries selected for answering")
		f.Float64Var(&flagHitFrac, "hit-frac", 1, "fraction of hits of a selected query that are answered")
		f.Float64Var(&flagSnapshotFrac, "snapshot-frac", 0, "fraction of field accesses that take a snapshot")
		f.BoolVar(&flagStrong, "strong-updates", true, "field writes replace the previous edge")
		f.BoolVar(&flagIncludeAll, "include-all-queries", false, "do not exclude library program points")
		f.BoolVar(&flagIgnoreBad, "ignore-bad-objects", false, "skip accesses involving objects the graph does not know")
		f.StringVar(&flagNames, "names", "", "YAML program name table")
		f.StringVar(&flagFormat, "format", "", "trace format (binary, jsonl); detected when empty")
		f.StringVarP(&flagOutputDir, "output-dir", "o", "", "directory receiving one sub-directory per run")
		f.BoolVar(&flagOutputGraph, "output-graph", false, "write graph.commands and graph.dot")
		f.IntVar(&flagMaxFieldsLog, "max-field-accesses", 0, "field-access log lines per program point (0 disables)")
		f.IntVar(&flagMaxTraceError, "max-trace-errors", 100, "malformed trace records tolerated")
	}
	runCmd.Flags().StringVarP(&flagAbstraction, "abstraction", "a", "alloc", "abstraction kind")
	compareCmd.Flags().StringSliceVarP(&flagAbstractions, "abstractions", "a", nil, "abstraction kinds to compare (default all)")
	convertCmd.Flags().StringVar(&flagConvertTo, "to", "jsonl", "output format (binary, jsonl)")
	convertCmd.Flags().StringVar(&flagFormat, "from", "", "input format; detected when empty")
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "number of runs to list (0 for all)")

	rootCmd.AddCommand(runCmd, compareCmd, convertCmd, historyCmd, versionCmd)
}

// loadConfig resolves the configuration of cmd: defaults, then the file,
// then the environment, then flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	f := cmd.Flags()
	changed := func(name string) bool {
		fl := f.Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("verbose") {
		cfg.Verbose = flagVerbose
	}
	if changed("abstraction") {
		cfg.Abstraction = flagAbstraction
	}
	if changed("kcfa") {
		cfg.KCFA = flagKCFA
	}
	if changed("recency-order") {
		cfg.RecencyOrder = flagRecencyOrder
	}
	if changed("rand-size") {
		cfg.RandSize = flagRandSize
	}
	if changed("query-frac") {
		cfg.QueryFrac = flagQueryFrac
	}
	if changed("hit-frac") {
		cfg.HitFrac = flagHitFrac
	}
	if changed("snapshot-frac") {
		cfg.SnapshotFrac = flagSnapshotFrac
	}
	if changed("strong-updates") {
		cfg.UseStrongUpdates = flagStrong
	}
	if changed("include-all-queries") {
		cfg.IncludeAllQueries = flagIncludeAll
	}
	if changed("ignore-bad-objects") {
		cfg.IgnoreBadObjects = flagIgnoreBad
	}
	if changed("names") {
		cfg.Names = flagNames
	}
	if changed("format") {
		cfg.TraceFormat = flagFormat
	}
	if changed("output-dir") {
		cfg.OutputDir = flagOutputDir
	}
	if changed("output-graph") {
		cfg.OutputGraph = flagOutputGraph
	}
	if changed("max-field-accesses") {
		cfg.MaxFieldAccessesToPrint = flagMaxFieldsLog
	}
	if changed("max-trace-errors") {
		cfg.MaxTraceErrors = flagMaxTraceError
	}
	if changed("history-dir") {
		cfg.HistoryDir = flagHistoryDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("after flag overrides: %w", err)
	}
	return cfg, nil
}

func loadResolver(cfg config.Config) (program.Resolver, error) {
	if cfg.Names == "" {
		return &program.Table{}, nil
	}
	return program.Load(cfg.Names)
}
