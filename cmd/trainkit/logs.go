package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/trainkit/internal/config"
	"github.com/cwbudde/trainkit/internal/summary"
)

var (
	logsDir   string
	logsSplit string
	logsTag   string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print scalar summaries of a run",
	Long:  `Reads the train or validation event file of a run and prints its scalars.`,
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsDir, "dir", "runs/default", "Run log directory (paths.log)")
	logsCmd.Flags().StringVar(&logsSplit, "split", "train", "Summary writer to read: train or validation")
	logsCmd.Flags().StringVar(&logsTag, "tag", "", "Only print this tag (default all)")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	paths := config.Paths{Log: logsDir}

	var dir string
	switch logsSplit {
	case "train":
		dir = paths.Train()
	case "validation":
		dir = paths.Validation()
	default:
		return fmt.Errorf("unknown split: %s", logsSplit)
	}

	r, err := summary.NewReader(dir)
	if err != nil {
		return err
	}
	defer r.Close()

	events, err := r.Scalars(logsTag)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tTAG\tVALUE\tTIME")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%.6g\t%s\n", e.Step, e.Tag, e.Value, e.WallTime.Format("15:04:05"))
	}
	return w.Flush()
}
