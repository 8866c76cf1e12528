package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/synapseshield/shield/internal/infra/twin"
)

func init() {
	twinsCmd.Flags().BoolVar(&twinsJSON, "json", false, "Print the full twin documents as JSON")
	rootCmd.AddCommand(twinsCmd)
}

var twinsJSON bool

var twinsCmd = &cobra.Command{
	Use:   "twins [QUERY]",
	Short: "Query the digital twin store",
	Long:  `Run a twin query. The default query selects every twin.`,
	Example: `  shield twins
  shield twins "SELECT * FROM DIGITALTWINS T WHERE T.lastAnomalyScore > 0.1"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTwins,
}

func runTwins(cmd *cobra.Command, args []string) error {
	q := twin.DefaultQuery
	if len(args) == 1 {
		q = args[0]
	}

	d, err := openDaemon(nil)
	if err != nil {
		return err
	}
	defer d.Close()

	items, err := d.Twins.Query(context.Background(), q)
	if err != nil {
		return err
	}
	if twinsJSON {
		return printJSON(map[string]any{"count": len(items), "items": items})
	}
	if len(items) == 0 {
		fmt.Println("No twins matched.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TWIN\tLAST SCORE\tACTION")
	for _, it := range items {
		fmt.Fprintf(w, "%v\t%v\t%v\n",
			field(it, "$dtId"), field(it, "lastAnomalyScore"), field(it, "recommendedAction"))
	}
	return w.Flush()
}

func field(m map[string]any, key string) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return "-"
}
