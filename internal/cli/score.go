package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/synapseshield/shield/internal/app/scoring"
	"github.com/synapseshield/shield/internal/infra/dataset"
)

func init() {
	f := scoreCmd.Flags()
	f.StringVarP(&scoreFile, "file", "f", "", "Dataset file (.csv, .json, .jsonl, .yaml)")
	f.Float64Var(&scoreThreshold, "threshold", -1, "Anomaly threshold (default: configured, else mean + 2 sd of the batch)")
	f.BoolVar(&scoreAnomaliesOnly, "anomalies", false, "Only list anomalous rows")
	f.BoolVar(&scoreJSON, "json", false, "Print the report as JSON")
	scoreCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(scoreCmd)
}

var (
	scoreFile          string
	scoreThreshold     float64
	scoreAnomaliesOnly bool
	scoreJSON          bool
)

var scoreCmd = &cobra.Command{
	Use:     "score",
	Short:   "Score a batch of telemetry and recommend an action",
	Example: `  shield score -f fleet.csv --anomalies`,
	RunE:    runScore,
}

func runScore(cmd *cobra.Command, args []string) error {
	ds, err := dataset.Load(scoreFile)
	if err != nil {
		return err
	}

	d, err := openDaemon(nil)
	if err != nil {
		return err
	}
	defer d.Close()

	var threshold *float64
	if scoreThreshold >= 0 {
		threshold = &scoreThreshold
	}
	rep, err := d.Service.ScoreBatch(context.Background(), ds, threshold, scoring.SourceCLI)
	if err != nil {
		return err
	}
	if scoreJSON {
		return printJSON(rep)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCORE\tANOMALY")
	for _, row := range rep.Rows {
		if scoreAnomaliesOnly && !row.IsAnomaly {
			continue
		}
		flag := ""
		if row.IsAnomaly {
			flag = "yes"
		}
		fmt.Fprintf(w, "%s\t%.6f\t%s\n", row.ID, row.Score, flag)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	source := "configured"
	if rep.Derived {
		source = "derived"
	}
	fmt.Printf("\n%d of %d rows anomalous (threshold %.6f, %s)\n",
		len(rep.Recommendation.HighRisk), len(rep.Rows), rep.Threshold, source)
	fmt.Printf("recommended action: %s\n", rep.Recommendation.Action)
	return nil
}
