// Command monitor polls a fixed population of wireless-testbed nodes
// and streams liveness/software-state updates to a sidecar message bus.
package main

/*
	Definition of the monitor command: a single cobra root with a flat
	flag set and one "version" subcommand; any other positional argument
	is a node id. Wires Config, the Orchestrator, and the
	websocket Emitter together and runs until the configured signal or
	run-count cutoff.
*/

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/r2lab/sidecar-monitor/internal/monitor"
)

var (
	version = "devel"

	cfg        = monitor.DefaultConfig()
	configFile string

	cmdRoot = &cobra.Command{
		Use:   "monitor",
		Short: "Testbed node monitor",
		Long: `Periodically probes a fixed population of wireless-testbed
nodes (CMC power state, admin shell / OS release / wlan rates, control
ping) and streams incremental updates to a sidecar message bus.`,
		Args: cobra.ArbitraryArgs,
		RunE: runMonitor,
	}
)

func init() {
	flags := cmdRoot.Flags()
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "verbose logging")
	flags.Float64VarP(&cfg.CycleSecs, "cycle", "c", cfg.CycleSecs, "cycle duration in seconds")
	flags.IntVarP(&cfg.Runs, "runs", "r", cfg.Runs, "run count; 0 means forever")
	flags.StringVarP(&cfg.SidecarURL, "sidecar", "s", cfg.SidecarURL, "sidecar url (scheme://host:port)")
	flags.StringVarP(&cfg.OutputPath, "output", "o", cfg.OutputPath, "append-mode log file (default stdout)")
	flags.BoolVarP(&noWlan, "no-wlan", "w", false, "disable wireless rate reporting")
	flags.IntVarP(&cfg.MaxIndex, "max-index", "m", cfg.MaxIndex, "summary width in context; 0 means unset")
	flags.StringVarP(&configFile, "config", "f", "", "optional YAML defaults file, overridden by flags")

	cmdRoot.AddCommand(cmdVersion)
}

var noWlan bool

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print the version number and exit",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("monitor version %s\n", version)
	},
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		fileCfg, err := monitor.LoadConfigFile(configFile)
		if err != nil {
			return errors.Wrap(err, "loading -f config file")
		}
		mergeFlagsOverFile(&fileCfg, cmd)
		cfg = fileCfg
	}
	if flagChanged(cmd, "no-wlan") {
		cfg.ReportWlan = !noWlan
	}
	if len(args) > 0 {
		cfg.Nodes = args
	}

	out, closeOut, err := openOutput(cfg.OutputPath)
	if err != nil {
		return errors.Wrap(err, "opening -o output file")
	}
	defer closeOut()

	configureLogging(cfg.Verbose, out)

	emitter, err := monitor.NewWebsocketEmitter(cfg.SidecarURL)
	if err != nil {
		return errors.Wrapf(err, "malformed sidecar url %q", cfg.SidecarURL)
	}
	defer emitter.Close()
	emitter.Probe(3, 300*time.Millisecond)

	ids := monitor.ResolveNodeIDs(cfg.Nodes)
	cycle := time.Duration(cfg.CycleSecs * float64(time.Second))
	orch := monitor.NewOrchestrator(ids, cycle, cfg.Runs, cfg.MaxIndex, cfg.ReportWlan, emitter, out)

	ctx, cancel := context.WithCancel(context.Background())
	installSignalHandler(cancel, closeOut)

	log.WithField("nodes", len(ids)).WithField("cycle", cycle).Info("monitor: entering main loop")
	orch.Run(ctx)
	return nil
}

// installSignalHandler treats SIGHUP/SIGQUIT/SIGINT/SIGTERM alike: flush
// the log output and exit immediately with code 1.
func installSignalHandler(cancel context.CancelFunc, closeOut func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.WithField("signal", s.String()).Warn("monitor: received signal, exiting")
		cancel()
		closeOut()
		os.Exit(1)
	}()
}

func openOutput(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, func() {}, err
	}
	return f, func() { _ = f.Close() }, nil
}

func configureLogging(verbose bool, out *os.File) {
	log.SetOutput(out)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func mergeFlagsOverFile(fileCfg *monitor.Config, cmd *cobra.Command) {
	if flagChanged(cmd, "verbose") {
		fileCfg.Verbose = cfg.Verbose
	}
	if flagChanged(cmd, "cycle") {
		fileCfg.CycleSecs = cfg.CycleSecs
	}
	if flagChanged(cmd, "runs") {
		fileCfg.Runs = cfg.Runs
	}
	if flagChanged(cmd, "sidecar") {
		fileCfg.SidecarURL = cfg.SidecarURL
	}
	if flagChanged(cmd, "output") {
		fileCfg.OutputPath = cfg.OutputPath
	}
	if flagChanged(cmd, "max-index") {
		fileCfg.MaxIndex = cfg.MaxIndex
	}
}
