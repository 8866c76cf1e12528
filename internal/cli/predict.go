package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synapseshield/shield/internal/app/scoring"
	"github.com/synapseshield/shield/internal/domain"
)

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictPoint.DeviceID, "device-id", "", "Device identifier")
	f.Float64Var(&predictPoint.CPUUsage, "cpu", 0, "CPU usage")
	f.Float64Var(&predictPoint.NetworkPackets, "packets", 0, "Network packets")
	f.Float64Var(&predictPoint.FailedLogins, "failed-logins", 0, "Failed login attempts")
	f.Float64Var(&predictPoint.TrafficVolume, "traffic", 0, "Traffic volume")
	f.BoolVar(&predictJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(predictCmd)
}

var (
	predictPoint domain.Telemetry
	predictJSON  bool
)

var predictCmd = &cobra.Command{
	Use:   "predict [EVENT_JSON]",
	Short: "Score a single telemetry reading",
	Long: `Score one reading given either as flags or as a JSON event.
Without a configured model.threshold a lone reading is compared with its own
score and is never flagged.`,
	Example: `  shield predict --device-id cam-3 --cpu 0.97 --packets 4000 --failed-logins 30 --traffic 80000
  shield predict '{"deviceId":"cam-3","cpuUsage":0.97}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPredict,
}

func runPredict(cmd *cobra.Command, args []string) error {
	point := predictPoint
	if len(args) == 1 {
		var err error
		if point, err = scoring.ParseTelemetry([]byte(args[0])); err != nil {
			return err
		}
	}

	d, err := openDaemon(nil)
	if err != nil {
		return err
	}
	defer d.Close()

	p, err := d.Service.Predict(context.Background(), point, scoring.SourceCLI)
	if err != nil {
		return err
	}
	if predictJSON {
		return printJSON(p)
	}

	verdict := "normal"
	if p.IsAnomaly {
		verdict = "ANOMALY"
	}
	fmt.Printf("device:    %s\n", orDash(p.DeviceID))
	fmt.Printf("score:     %.6f\n", p.Score)
	fmt.Printf("threshold: %.6f\n", p.Threshold)
	fmt.Printf("verdict:   %s\n", verdict)
	fmt.Printf("action:    %s\n", p.RecommendedAction)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
