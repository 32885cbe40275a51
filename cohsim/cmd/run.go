package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem/harness"
	"github.com/sarchlab/cohsim/monitoring"
	"github.com/sarchlab/cohsim/tracing"
)

// StatsTable is the table that holds the counters of a recorded run.
const StatsTable = "stats"

type runOptions struct {
	configPath  string
	envPath     string
	maxCycles   uint64
	parallel    bool
	recordPath  string
	logTrace    bool
	monitor     bool
	monitorPort int
	openBrowser bool
	loadDir     string
	saveDir     string
	check       bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <trace>",
	Short: "Run a trace through the configured system.",
	Long: "Run a trace through the configured system. Each trace line is " +
		"`R|W|F|N <address> <core>`.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrace(cmd, args[0], runOpts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVar(&runOpts.configPath, "config", "",
		"YAML file describing the system")
	f.StringVar(&runOpts.envPath, "env-file", ".env",
		"file of COHSIM_* overrides, skipped if missing")
	f.Uint64Var(&runOpts.maxCycles, "max-cycles", 0,
		"give up after this many cycles")
	f.BoolVar(&runOpts.parallel, "parallel", false,
		"tick directory banks in parallel")
	f.StringVar(&runOpts.recordPath, "record", "",
		"record transactions and counters into <path>.sqlite3")
	f.BoolVar(&runOpts.logTrace, "log", false,
		"print every transaction to stderr")
	f.BoolVar(&runOpts.monitor, "monitor", false,
		"serve the monitoring page while running")
	f.IntVar(&runOpts.monitorPort, "monitor-port", 0,
		"port of the monitoring page, random if 0")
	f.BoolVar(&runOpts.openBrowser, "open-browser", false,
		"open the monitoring page in a browser")
	f.StringVar(&runOpts.loadDir, "load-dir", "",
		"restore caches and directories from a checkpoint directory")
	f.StringVar(&runOpts.saveDir, "save-dir", "",
		"checkpoint caches and directories after the run")
	f.BoolVar(&runOpts.check, "check", false,
		"verify coherence after every cycle")
}

// resolveConfig combines the config file, the env file, the environment, and
// the flags, in increasing priority.
func resolveConfig(cmd *cobra.Command, opts runOptions) (Config, error) {
	err := godotenv.Load(opts.envPath)
	if err != nil && !(errors.Is(err, fs.ErrNotExist) &&
		!cmd.Flags().Changed("env-file")) {
		return Config{}, fmt.Errorf("reading %s: %w", opts.envPath, err)
	}

	cfg, err := LoadConfigFile(opts.configPath)
	if err != nil {
		return cfg, err
	}

	err = cfg.ApplyEnv(EnvFromOS())
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("max-cycles") {
		cfg.MaxCycles = opts.maxCycles
	}

	if cmd.Flags().Changed("parallel") {
		cfg.Parallel = opts.parallel
	}

	return cfg, nil
}

func runTrace(
	cmd *cobra.Command,
	tracePath string,
	opts runOptions,
) (err error) {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}

	builder, err := cfg.Builder()
	if err != nil {
		return err
	}

	s := builder.Build(cfg.Name)

	accesses, err := readTrace(tracePath)
	if err != nil {
		return err
	}

	if opts.loadDir != "" {
		err = s.LoadCheckpoint(opts.loadDir)
		if err != nil {
			return err
		}
	}

	err = s.Load(accesses)
	if err != nil {
		return err
	}

	if opts.logTrace {
		attachTracer(s, tracing.NewLogTracer(
			log.New(cmd.ErrOrStderr(), "", 0), s))
	}

	var recorder datarecording.DataRecorder

	if opts.recordPath != "" {
		recorder = datarecording.New(opts.recordPath)
		tracer := tracing.NewDBTracer(s, recorder)
		attachTracer(s, tracer)

		defer func() {
			tracer.Terminate()
			recordStats(recorder, s)

			closeErr := recorder.Close()
			if closeErr != nil && err == nil {
				err = closeErr
			}
		}()
	}

	if opts.monitor {
		m := startMonitor(s, opts, uint64(len(accesses)))
		defer m.StopServer()
	}

	var incoherent error

	if opts.check {
		s.OnStep(func(cycle uint64) {
			if incoherent == nil {
				if checkErr := s.CheckCoherence(); checkErr != nil {
					incoherent = fmt.Errorf("cycle %d: %w", cycle, checkErr)
				}
			}
		})
	}

	err = s.Run(cfg.MaxCycles)
	if err != nil {
		return err
	}

	if incoherent != nil {
		return incoherent
	}

	if opts.check {
		err = s.CheckDirectory()
		if err != nil {
			return err
		}
	}

	printSummary(cmd.OutOrStdout(), s)

	if opts.saveDir != "" {
		err = s.SaveCheckpoint(opts.saveDir)
	}

	return err
}

func readTrace(path string) ([]harness.Access, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return harness.ParseTrace(f)
}

func attachTracer(s *harness.System, tracer tracing.Tracer) {
	for _, n := range s.Nodes() {
		tracing.CollectTrace(n, tracer)
	}

	for _, b := range s.Banks() {
		tracing.CollectTrace(b.Engine(), tracer)
	}
}

func recordStats(recorder datarecording.DataRecorder, s *harness.System) {
	recorder.CreateTable(StatsTable, harness.StatRecord{})

	for _, r := range s.StatRecords() {
		recorder.InsertData(StatsTable, r)
	}
}

func startMonitor(
	s *harness.System,
	opts runOptions,
	total uint64,
) *monitoring.Monitor {
	m := monitoring.NewMonitor().
		WithPortNumber(opts.monitorPort).
		WithBrowser(opts.openBrowser)

	m.RegisterSimulation(s)

	for _, n := range s.Nodes() {
		m.RegisterComponent(n)
	}

	for _, b := range s.Banks() {
		m.RegisterComponent(b)
	}

	bar := m.CreateProgressBar("Accesses", total)

	s.OnStep(func(cycle uint64) {
		left, waiting := uint64(0), uint64(0)
		for _, n := range s.Nodes() {
			left += uint64(n.Remaining())
			if n.Waiting() {
				waiting++
			}
		}

		inFlight := uint64(0)
		for _, b := range s.Banks() {
			inFlight += uint64(b.MAF().UsedEntries())
		}

		bar.Update(cycle, total-left, waiting, inFlight)
	})

	m.StartServer()

	return m
}

func printSummary(w io.Writer, s *harness.System) {
	fmt.Fprintf(w, "%s drained after %d cycles\n", s.Name(), s.CurrentCycle())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tCOUNTER\tVALUE")

	for _, r := range s.StatRecords() {
		if r.Value == 0 {
			continue
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Component, r.Counter, r.Value)
	}

	tw.Flush()
}
