package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/golang/geo/r3"
	"github.com/guptarohit/asciigraph"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/stackeval/internal/config"
	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/logging"
	"github.com/san-kum/stackeval/internal/platform"
	"github.com/san-kum/stackeval/internal/report"
	"github.com/san-kum/stackeval/internal/storage"
	"github.com/san-kum/stackeval/internal/sweep"
	"github.com/san-kum/stackeval/internal/tui"
)

var (
	configFile string
	seed       uint64
	trials     int
	live       bool
	debug      bool
	// check
	className   string
	recognized  string
	axis        []float64
	angleDeg    float64
	translation float64
	// report
	exportPath string
	// sweep
	metric string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "stackeval",
		Short:         "pose estimation evaluation on simulated object piles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run an evaluation",
		Args:  cobra.NoArgs,
		RunE:  runEvaluation,
	}
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "scene seed (overrides config)")
	runCmd.Flags().IntVar(&trials, "trials", 0, "stop after this many trials (overrides config)")
	runCmd.Flags().BoolVar(&live, "live", false, "show the live dashboard")
	runCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	reportCmd := &cobra.Command{
		Use:   "report [run_dir]",
		Short: "summarize the logs of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  reportRun,
	}
	reportCmd.Flags().StringVar(&exportPath, "export", "", "also export run metadata and events as JSON (- for stdout)")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "classify a single pose error",
		Args:  cobra.NoArgs,
		RunE:  checkError,
	}
	checkCmd.Flags().StringVar(&className, "class", "cube", "target class (config target or preset)")
	checkCmd.Flags().StringVar(&recognized, "recognized", "", "recognized class name (defaults to --class)")
	checkCmd.Flags().Float64SliceVar(&axis, "axis", []float64{0, 0, 1}, "rotation error axis x,y,z")
	checkCmd.Flags().Float64Var(&angleDeg, "angle", 0, "rotation error angle in degrees")
	checkCmd.Flags().Float64Var(&translation, "translation", 0, "translation error in metres")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list target class presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "stackeval.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [file]",
		Short: "run an evaluation over seeds and parameter values",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&metric, "metric", "success_rate", "metric to rank points by")
	sweepCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")

	rootCmd.AddCommand(runCmd, listCmd, reportCmd, checkCmd, presetsCmd, initCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

func runEvaluation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Run.Seed = seed
	}
	if cmd.Flags().Changed("trials") {
		cfg.Run.Trials = trials
	}

	logger, closeLog, err := newRunLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	p, err := platform.New(cfg, platform.Options{Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if live {
		err = tui.Run(ctx, p.RunName(), p, p.Run)
	} else {
		fmt.Printf("running %s\n", p.RunName())
		err = p.Run(ctx)
	}
	if err != nil {
		return err
	}

	summary := p.Collector().Summary()
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("run dir: %s\n", p.RunDir())
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, summary[name])
	}
	return nil
}

// newRunLogger logs to the console, or only to a file under the log path when
// the dashboard owns the terminal. The returned func flushes and closes it.
func newRunLogger(cfg *config.Config) (*zap.SugaredLogger, func(), error) {
	if !live {
		logger := logging.NewLogger("stackeval")
		if debug {
			var err error
			if logger, err = logging.NewDebugLogger("stackeval", ""); err != nil {
				return nil, nil, err
			}
		}
		return logger, func() { _ = logger.Sync() }, nil
	}
	if err := os.MkdirAll(cfg.Log.Path, 0755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(cfg.Log.Path, "stackeval.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	logger := logging.NewWriterLogger("stackeval", f, level)
	return logger, func() {
		_ = logger.Sync()
		_ = f.Close()
	}, nil
}

func logPath() string {
	cfg, err := loadConfig()
	if err != nil || cfg.Log.Path == "" {
		return config.DefaultLogPath
	}
	return cfg.Log.Path
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(logPath())
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tTIME\tSEED\tCLASSES\tOBJECTS\tTRIALS\tSUCCESS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%.3f\n",
			run.Run,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Seed,
			strings.Join(run.Classes, ","),
			run.Objects,
			run.Trials,
			run.Metrics["success_rate"],
		)
	}

	return w.Flush()
}

// resolveRunDir accepts a run directory path or a run name under the log path.
func resolveRunDir(arg string) (string, error) {
	if fi, err := os.Stat(arg); err == nil && fi.IsDir() {
		return arg, nil
	}
	dir := filepath.Join(logPath(), arg)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir, nil
	}
	return "", errors.Errorf("no run directory %s", arg)
}

func reportRun(cmd *cobra.Command, args []string) error {
	dir, err := resolveRunDir(args[0])
	if err != nil {
		return err
	}
	s, err := report.Load(dir)
	if err != nil {
		return err
	}

	evaluated := len(s.Successes) + len(s.Errors)
	fmt.Printf("run: %s\n", filepath.Base(dir))
	fmt.Printf("successes:   %d\n", len(s.Successes))
	fmt.Printf("errors:      %d\n", len(s.Errors))
	fmt.Printf("inestimable: %d\n", len(s.Inestimable))
	if evaluated > 0 {
		fmt.Printf("success rate: %.3f\n", float64(len(s.Successes))/float64(evaluated))
	}

	if counts := s.ReasonCounts(); len(counts) > 0 {
		reasons := make([]string, 0, len(counts))
		for r := range counts {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		fmt.Println("\nrejections:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %s\t%d\n", r, counts[r])
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	for _, series := range []struct {
		values  []float64
		caption string
	}{
		{s.TimeToSteady, "time to steady (s) per trial"},
		{s.SuccessRuns, "successes between failures"},
	} {
		if len(series.values) == 0 {
			continue
		}
		fmt.Println()
		fmt.Println(asciigraph.Plot(series.values,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(series.caption),
		))
	}

	if exportPath != "" {
		st := storage.New(filepath.Dir(dir))
		if err := st.ExportJSON(filepath.Base(dir), exportPath); err != nil {
			return errors.Wrap(err, "exporting run")
		}
	}
	return nil
}

// targetClass finds name among the configured targets, then the presets.
func targetClass(name string) (criteria.TargetClass, error) {
	var targets []config.TargetConfig
	if configFile != "" {
		cfg, err := loadConfig()
		if err != nil {
			return criteria.TargetClass{}, err
		}
		targets = cfg.Stacking.Targets
	}
	if p := config.GetPreset(name); p != nil {
		targets = append(targets, *p)
	}

	for _, t := range targets {
		if t.Name != name {
			continue
		}
		t.Proportion = 1
		cfg := &config.Config{Stacking: config.StackingConfig{Targets: []config.TargetConfig{t}}}
		classes, warnings := cfg.Classes()
		for _, w := range warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
		return classes[0], nil
	}
	return criteria.TargetClass{}, errors.Errorf("unknown class %q (presets: %v)", name, config.ListPresets())
}

func checkError(cmd *cobra.Command, args []string) error {
	tc, err := targetClass(className)
	if err != nil {
		return err
	}
	if len(axis) != 3 {
		return errors.Errorf("--axis needs 3 values, got %d", len(axis))
	}
	a := r3.Vector{X: axis[0], Y: axis[1], Z: axis[2]}
	if a.Norm() == 0 {
		return errors.New("--axis must not be zero")
	}
	label := recognized
	if label == "" {
		label = tc.Name
	}

	v := criteria.Classify(criteria.Input{
		RecognizedClass:  label,
		MatchedObject:    tc.Name + "_0",
		Rotation:         geom.AxisAngle{Axis: a.Normalize(), Theta: geom.DegToRad(angleDeg)},
		TranslationError: translation,
		Criteria:         tc.Criteria,
	})

	if v.Accepted {
		fmt.Printf("accepted (%s)\n", v.Rule)
	} else {
		fmt.Printf("rejected (%s)\n", v.Reason)
	}
	fmt.Printf("  angle: %.3f deg\n", v.AngleDeg)
	if v.AxisDeviationDeg != 0 {
		fmt.Printf("  axis deviation: %.3f deg\n", v.AxisDeviationDeg)
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	s, err := sweep.Load(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newRunLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := sweep.Run(ctx, s, cfg, sweep.PlatformRunner(logger.Named("run")), logger)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "POINT\tSEED\t%s\tEVALUATED\tRUN\n", strings.ToUpper(metric))
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d\t%.4f\t%.0f\t%s\n", r.Point.Label(), r.Seed, r.Metrics[metric], r.Metrics["evaluated"], r.RunDir)
	}
	if ferr := w.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return err
	}

	points, means := sweep.Aggregate(results, metric)
	if len(points) > 1 {
		fmt.Printf("\nmean %s per point:\n", metric)
		for i, pt := range points {
			fmt.Printf("  %s: %.4f\n", pt.Label(), means[i])
		}
		fmt.Println()
		fmt.Println(asciigraph.Plot(means,
			asciigraph.Height(8),
			asciigraph.Width(60),
			asciigraph.Caption("mean "+metric+" by point"),
		))
	}
	if best, ok := sweep.Best(results, metric); ok {
		fmt.Printf("\nbest: %s seed %d (%s %.4f)\n", best.Point.Label(), best.Seed, metric, best.Metrics[metric])
	}
	return nil
}
