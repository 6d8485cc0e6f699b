// Command compute is the engine's CLI: the make/clean/invalidate/ls/details/
// dump/check-consistency command surface of spec section 6, plus a hidden
// --internal-run-job verb that is never invoked directly — ModeNewProcess
// re-execs this same binary with that flag to run one job in a subprocess.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/compmake/engine/internal/config"
	"github.com/compmake/engine/internal/errs"
	"github.com/compmake/engine/internal/scheduler"
	"github.com/compmake/engine/internal/session"
	"github.com/compmake/engine/internal/shell"
)

// Exit codes per spec section 6.
const (
	exitDone        = 0
	exitFailed      = 1
	exitBlocked     = 2
	exitUserError   = 3
	exitInterrupted = 4
)

var (
	configFiles  configPaths
	storeBackend string
	storePath    string
	logLevel     string
)

type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Type() string   { return "stringArray" }
func (c *configPaths) Set(v string) error {
	*c = append(*c, v)
	return nil
}

func main() {
	if internalRunJobFlagSet() {
		runWorker()
		return
	}
	os.Exit(run())
}

// internalRunJobFlagSet checks argv directly (before cobra parses) since the
// hidden worker verb bypasses the normal command tree entirely: it must
// never print usage, never touch config, and exchange exactly one JSON
// request/response pair over stdin/stdout (spec section 4.6).
func internalRunJobFlagSet() bool {
	for _, a := range os.Args[1:] {
		if a == "--internal-run-job" {
			return true
		}
	}
	return false
}

func runWorker() {
	if err := scheduler.WorkerMain(os.Stdin, os.Stdout); err != nil {
		os.Exit(exitUserError)
	}
}

func run() int {
	root := &cobra.Command{
		Use:   "compute",
		Short: "A persistent, dependency-aware computation engine",
	}
	root.PersistentFlags().VarP(&configFiles, "config", "c", "configuration file (repeatable, later files override earlier)")
	root.PersistentFlags().StringVar(&storeBackend, "backend", "", "store backend override (badger|sqlite)")
	root.PersistentFlags().StringVar(&storePath, "store", "", "store path override")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")

	root.AddCommand(
		makeCmd(),
		cleanCmd(),
		invalidateCmd(),
		lsCmd(),
		detailsCmd(),
		dumpCmd(),
		checkConsistencyCmd(),
		scheduleCmd(),
	)

	if err := root.Execute(); err != nil {
		if kind, ok := errs.Of(err); ok {
			switch kind {
			case errs.KindUser, errs.KindSyntax, errs.KindCommandFailed:
				fmt.Fprintln(os.Stderr, err)
				return exitUserError
			case errs.KindInterrupted:
				fmt.Fprintln(os.Stderr, err)
				return exitInterrupted
			}
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUserError
	}
	return lastExitCode
}

// lastExitCode lets makeCmd report a Report-derived exit code without
// cobra's Execute() (which only distinguishes error/no-error) losing the
// done/failed/blocked distinction spec section 6 requires.
var lastExitCode = exitDone

func openSession(cmd *cobra.Command) (*session.Session, error) {
	overrides := config.Overrides{StoreBackend: storeBackend, StorePath: storePath, LogLevel: logLevel}
	cfg, err := config.Load(configFiles, overrides)
	if err != nil {
		return nil, errs.Wrap(errs.KindUser, "load config", err)
	}
	return session.Open(cmd.Context(), cfg)
}

func interruptContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

func makeCmd() *cobra.Command {
	var opts shell.MakeOptions
	var concurrency int
	cmd := &cobra.Command{
		Use:   "make [targets]",
		Short: "Run every stale job in the selected set to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := interruptContext()
			defer cancel()
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			opts.Targets = joinArgs(args)
			opts.Concurrency = concurrency
			sh := shell.New(sess)
			report, err := sh.Make(ctx, opts)
			if report != nil {
				shell.RenderReport(os.Stdout, report.Done, report.Failed, report.Blocked)
			}
			switch {
			case err == nil:
				lastExitCode = exitDone
			case ctx.Err() != nil:
				lastExitCode = exitInterrupted
				return errs.Wrap(errs.KindInterrupted, "make interrupted", ctx.Err())
			case len(report.Failed) > 0:
				lastExitCode = exitFailed
				return nil
			case len(report.Blocked) > 0:
				lastExitCode = exitBlocked
				return nil
			default:
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Recurse, "recurse", true, "fold newly discovered dynamic children into this run")
	cmd.Flags().BoolVar(&opts.NewProcess, "new-process", false, "dispatch each job in its own subprocess")
	cmd.Flags().IntVarP(&concurrency, "n", "n", 1, "worker concurrency for parallel/new-process dispatch")
	return cmd
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [targets]",
		Short: "Delete the selected jobs and their definition closure",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			ids, err := shell.New(sess).Clean(cmd.Context(), joinArgs(args))
			if err != nil {
				return err
			}
			fmt.Printf("cleaned %d job(s)\n", len(ids))
			return nil
		},
	}
}

func invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [targets]",
		Short: "Reset the selected jobs' cache state to NOT_STARTED",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			ids, err := shell.New(sess).Invalidate(cmd.Context(), joinArgs(args))
			if err != nil {
				return err
			}
			fmt.Printf("invalidated %d job(s)\n", len(ids))
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [targets]",
		Short: "List the selected jobs with their state and freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			expr := joinArgs(args)
			if expr == "" {
				expr = "all"
			}
			rows, err := shell.New(sess).Ls(cmd.Context(), expr)
			if err != nil {
				return err
			}
			shell.RenderLs(os.Stdout, rows)
			return nil
		},
	}
}

func detailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "details <targets>",
		Short: "Show full Job and Cache records for the selected jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			rows, err := shell.New(sess).Details(cmd.Context(), joinArgs(args))
			if err != nil {
				return err
			}
			shell.RenderDetails(os.Stdout, rows)
			return nil
		},
	}
}

func dumpCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "dump <targets>",
		Short: "Write the selected jobs' decoded results as JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			values, err := shell.New(sess).Dump(cmd.Context(), joinArgs(args))
			if err != nil {
				return err
			}
			return writeDump(dir, values)
		},
	}
	cmd.Flags().StringVar(&dir, "directory", ".", "output directory for dumped files")
	return cmd
}

func checkConsistencyCmd() *cobra.Command {
	var raiseIfError bool
	cmd := &cobra.Command{
		Use:   "check-consistency",
		Short: "Re-verify the store's universal invariants (spec section 8)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			err = shell.New(sess).CheckConsistency(cmd.Context())
			if err == nil {
				fmt.Println("consistent")
				return nil
			}
			fmt.Println("inconsistent:", err)
			if raiseIfError {
				return errs.Wrap(errs.KindCommandFailed, "check-consistency", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raiseIfError, "raise-if-error", false, "return a non-zero exit code when inconsistent")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var opts shell.MakeOptions
	var concurrency int
	var cronSpec string
	cmd := &cobra.Command{
		Use:   "schedule [targets]",
		Short: "Re-run make on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cronSpec == "" {
				return errs.New(errs.KindUser, "schedule: --cron is required")
			}
			ctx, cancel := interruptContext()
			defer cancel()
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			opts.Targets = joinArgs(args)
			opts.Concurrency = concurrency
			sh := shell.New(sess)
			sched := shell.NewScheduler(sh, sess.Logger)
			if _, err := sched.AddMake(ctx, cronSpec, opts); err != nil {
				return errs.Wrap(errs.KindUser, "schedule: invalid cron spec", err)
			}

			sched.Start()
			defer sched.Stop()
			fmt.Printf("scheduled %q on %q, press Ctrl+C to stop\n", opts.Targets, cronSpec)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&cronSpec, "cron", "", "5-field cron expression for the recurring make")
	cmd.Flags().BoolVar(&opts.Recurse, "recurse", true, "fold newly discovered dynamic children into each scheduled run")
	cmd.Flags().BoolVar(&opts.NewProcess, "new-process", false, "dispatch each job in its own subprocess")
	cmd.Flags().IntVarP(&concurrency, "n", "n", 1, "worker concurrency for parallel/new-process dispatch")
	return cmd
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
