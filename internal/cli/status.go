package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model, storage and health status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(nil)
	if err != nil {
		return err
	}
	defer d.Close()
	ctx := context.Background()

	st := d.Service.Status(ctx)
	fmt.Printf("node:      %s\n", d.NodeID)
	fmt.Printf("storage:   %s\n", d.Config.Storage.Backend)
	fmt.Printf("scaler:    %s\n", st.ScalerMode)
	if st.ModelLoaded {
		fmt.Printf("model:     trained (%d features)\n", st.InputDim)
	} else {
		fmt.Println("model:     not trained, run 'shield train'")
	}
	if st.Threshold > 0 {
		fmt.Printf("threshold: %.6f (configured)\n", st.Threshold)
	} else {
		fmt.Println("threshold: derived per batch")
	}

	if run, err := d.DB.LatestTrainingRun(); err == nil && run != nil {
		fmt.Printf("last run:  %s at %s, loss %.6f\n",
			run.ID, run.FinishedAt.Local().Format("2006-01-02 15:04"), run.FinalLoss)
	}
	if total, anomalies, err := d.DB.ScoreStats(); err == nil {
		fmt.Printf("scored:    %d readings, %d anomalous\n", total, anomalies)
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tERROR")
	for _, s := range d.Health.RunOnce(ctx) {
		state := "ok"
		if !s.Healthy {
			state = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, state, s.Error)
	}
	return w.Flush()
}
