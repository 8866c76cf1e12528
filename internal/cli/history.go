package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/synapseshield/shield/internal/domain"
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum records to show")
	historyCmd.Flags().BoolVar(&historyRuns, "runs", false, "List training runs instead of scores")
	rootCmd.AddCommand(historyCmd)
}

var (
	historyLimit int
	historyRuns  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [DEVICE]",
	Short: "Show recorded scores or training runs",
	Long: `Without a device, list the most recent anomalies. With a device, list
that device's scores, newest first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(nil)
	if err != nil {
		return err
	}
	defer d.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if historyRuns {
		runs, err := d.DB.ListTrainingRuns(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No training runs yet.")
			return nil
		}
		fmt.Fprintln(w, "RUN\tROWS\tEPOCHS\tBATCH\tFINAL LOSS\tFINISHED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.6f\t%s\n",
				r.ID, r.Rows, r.Epochs, r.BatchSize, r.FinalLoss,
				r.FinishedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	}

	var recs []domain.ScoreRecord
	if len(args) == 1 {
		recs, err = d.DB.DeviceScores(args[0], historyLimit)
	} else {
		recs, err = d.DB.RecentAnomalies(historyLimit)
	}
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No scores recorded.")
		return nil
	}

	fmt.Fprintln(w, "TIME\tDEVICE\tSCORE\tTHRESHOLD\tANOMALY\tACTION\tSOURCE")
	for _, r := range recs {
		flag := ""
		if r.IsAnomaly {
			flag = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%.6f\t%.6f\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), orDash(r.DeviceID),
			r.Score, r.Threshold, flag, r.RecommendedAction, r.Source)
	}
	return w.Flush()
}
