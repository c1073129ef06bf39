// Package cmd implements the nativepatch command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"nativepatch/internal/batch"
	"nativepatch/internal/config"
	"nativepatch/internal/logging"
	nplog "nativepatch/internal/nativepatch/log"
	"nativepatch/internal/ui/progress"
)

// Version is reported by --version.
var Version = "dev"

var (
	ErrNoFiles = errors.New("no ELF files found")
	ErrFailed  = errors.New("some libraries failed")
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nativepatch [paths...]",
		Short: "Neutralize anti-tamper guard calls in AArch64 shared objects",
		Long: `Nativepatch walks the JNI_OnLoad function of each AArch64 shared object,
replaces calls to obfs_check1* guard routines with nop and defuses the
conditional branch that tests the result of the finishing guard.
Libraries are rewritten in place; use --backup to keep the original.`,
		Example: `
# Patch one library and keep a .bak copy
nativepatch --backup lib/arm64-v8a/libgame.so

# Patch every .so below a directory, print a JSON summary
nativepatch --json extracted/lib

# See what would change without writing anything
nativepatch --dry-run -d libgame.so
  `,
		Args:         cobra.MinimumNArgs(1),
		Version:      Version,
		SilenceUsage: true,
		RunE:         runPatch,
	}

	root.PersistentFlags().BoolP("debug", "d", false, "Debug")
	root.PersistentFlags().String("config", "", "JSON config file")

	root.Flags().BoolP("no-tui", "n", false, "Log plain lines instead of the progress spinner")
	root.Flags().BoolP("json", "j", false, "Output the summary as JSON")
	root.Flags().BoolP("recursive", "r", true, "Walk directories recursively")
	root.Flags().String("entry", "", "Entry point function (default JNI_OnLoad)")
	root.Flags().StringArray("guard", nil, "Guard routine name substring (repeatable)")
	root.Flags().StringArray("epilogue", nil, "Substring of guards followed by a branch epilogue (repeatable)")
	root.Flags().StringArray("ext", nil, "File suffix scanned in directories (repeatable, default .so)")
	root.Flags().Bool("backup", false, "Copy each library to <path>.bak before writing")
	root.Flags().Bool("dry-run", false, "Patch in memory only")
	root.Flags().Bool("strict", false, "Exit non-zero if a library fails to load or export")

	root.AddCommand(newShowCmd(), newSchemaCmd(), newLogsCmd())
	return root
}

// loadConfig reads --config over the defaults and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Lookup("entry") != nil && flags.Changed("entry") {
		cfg.EntryPoint, _ = flags.GetString("entry")
	}
	for flag, dst := range map[string]*[]string{
		"guard":    &cfg.GuardPatterns,
		"epilogue": &cfg.EpiloguePatterns,
		"ext":      &cfg.Extensions,
	} {
		if flags.Lookup(flag) != nil && flags.Changed(flag) {
			*dst, _ = flags.GetStringArray(flag)
		}
	}
	for flag, dst := range map[string]*bool{
		"backup":  &cfg.Backup,
		"dry-run": &cfg.DryRun,
		"strict":  &cfg.Strict,
	} {
		if flags.Lookup(flag) != nil && flags.Changed(flag) {
			*dst, _ = flags.GetBool(flag)
		}
	}
	return cfg, cfg.Validate()
}

// debugEnabled is true for -d or NATIVEPATCH_LOG_LEVEL=debug.
func debugEnabled(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug || logging.IsDebug()
}

func newLogger(cmd *cobra.Command, quiet bool) *logging.LoggerCloser {
	lc := logging.NewLogger()
	if debugEnabled(cmd) {
		lc.SetLevel(log.DebugLevel)
	}
	// the spinner owns the terminal; keep lines only when they go to a file
	if quiet && lc.Path == "" {
		lc.SetOutput(io.Discard)
	}
	return lc
}

func runPatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	recursive, _ := cmd.Flags().GetBool("recursive")
	interactive := !jsonOutput && !noTUI && isTerminal(cmd.OutOrStdout())

	nplog.Setup(cmd.ErrOrStderr(), debugEnabled(cmd))

	logger := newLogger(cmd, interactive)
	defer logger.Close()

	paths, err := batch.Discover(args, batch.DiscoverOptions{
		Recursive:  recursive,
		Extensions: cfg.Extensions,
		Logger:     logger.Logger,
	})
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return ErrNoFiles
	}
	logger.Debug("Discovered libraries", "count", len(paths))

	work := func(ctx context.Context, notify func(batch.Event)) (*batch.Report, error) {
		return batch.NewRunner(cfg, logger.Logger, batch.WithNotify(notify)).Run(ctx, paths)
	}

	var report *batch.Report
	if interactive {
		report, err = progress.Run(cmd.Context(), len(paths), work)
	} else {
		report, err = work(cmd.Context(), nil)
	}
	if report != nil {
		if outErr := writeReport(cmd.OutOrStdout(), report, jsonOutput); outErr != nil {
			return outErr
		}
	}
	if err != nil {
		return err
	}
	if cfg.Strict && report.Failed() {
		return fmt.Errorf("%w: %d of %d", ErrFailed, report.Summary.Failed, report.Summary.Total)
	}
	return nil
}

func writeReport(w io.Writer, report *batch.Report, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	md := RenderMarkdown(report)
	if isTerminal(w) {
		if rendered, err := renderTerminal(md); err == nil {
			md = rendered
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// Execute runs the root command and exits non-zero on failure. An empty
// version keeps the default.
func Execute(version string) {
	if version != "" {
		Version = version
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd()

	// fang renders help and errors as styled markdown; skip it for
	// machine output and pipes
	plain := !term.IsTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" {
			plain = true
			break
		}
	}

	var err error
	if plain {
		err = root.ExecuteContext(ctx)
	} else {
		err = fang.Execute(ctx, root, fang.WithVersion(Version), fang.WithNotifySignal(os.Interrupt))
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}
