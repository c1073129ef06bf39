package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"nativepatch/internal/logging"
)

func newLogsCmd() *cobra.Command {
	logs := &cobra.Command{
		Use:   "logs",
		Short: "Print the newest debug log",
		Long: `Logs prints the newest nativepatch-*-debug.log written with
NATIVEPATCH_LOG_TO_FILE=1, or follows it with --follow.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			follow, _ := cmd.Flags().GetBool("follow")

			path, err := logging.LatestLogFile(dir)
			if err != nil {
				return err
			}
			if !follow {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open log: %w", err)
				}
				defer f.Close()
				_, err = io.Copy(cmd.OutOrStdout(), f)
				return err
			}
			return followLog(cmd, path)
		},
	}
	logs.Flags().BoolP("follow", "f", false, "Keep printing new lines")
	logs.Flags().String("dir", ".", "Directory holding the log files")
	return logs
}

func followLog(cmd *cobra.Command, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("tail %s: %w", path, err)
	}
	defer t.Cleanup()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
