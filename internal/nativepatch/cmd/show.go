package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"nativepatch/internal/disasm"
	"nativepatch/internal/nativepatch/styles"
	"nativepatch/internal/patch"
	"nativepatch/internal/program"
	"nativepatch/internal/ui/colorize"
)

func newShowCmd() *cobra.Command {
	show := &cobra.Command{
		Use:   "show <file>",
		Short: "Print the annotated listing of a function",
		Long: `Show disassembles one function (the configured entry point by default),
naming call targets and marking calls into guard routines.`,
		Example: `
# Inspect JNI_OnLoad before and after patching
nativepatch show libgame.so

# Look at a specific function
nativepatch show libgame.so --func obfs_check1_finish
  `,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("func")
			if name == "" {
				name = cfg.EntryPoint
			}

			p, err := program.Open(args[0])
			if err != nil {
				return err
			}
			defer p.Close()

			fn, ok := p.FindFunction(name)
			if !ok {
				return fmt.Errorf("function %s not found in %s", name, p.Name())
			}
			color := isTerminal(cmd.OutOrStdout()) && !colorize.Disabled()
			return writeListing(cmd.OutOrStdout(), p, fn, cfg.Policy().Guard, color)
		},
	}
	show.Flags().String("func", "", "Function to list (default: entry point)")
	show.Flags().StringArray("guard", nil, "Guard routine name substring (repeatable)")
	return show
}

func writeListing(w io.Writer, p *program.Program, fn disasm.Func, guard patch.Matcher, color bool) error {
	fmt.Fprintf(w, "; %s\n", p.ExecutablePath())
	fmt.Fprintf(w, "; %s %#x-%#x\n\n", fn.DisplayName(), fn.Entry, fn.End)

	for _, line := range p.Listing(fn, guard) {
		text := line.String()
		if color {
			marker := "  "
			if line.Guard {
				marker = styles.Guard.Render("▶ ")
			}
			text = marker + colorize.ColorizeInstructionLine(text)
		}
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
	}
	return nil
}
