package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synapseshield/shield/internal/daemon"
	"github.com/synapseshield/shield/internal/domain"
	"github.com/synapseshield/shield/internal/infra/eventstream"
)

func init() {
	listenCmd.Flags().BoolVar(&listenStdin, "stdin", false, "Read newline-delimited JSON events from stdin")
	listenCmd.Flags().StringVar(&listenURL, "url", "", "Event stream URL (overrides config and EVENT_STREAM_URL)")
	rootCmd.AddCommand(listenCmd)
}

var (
	listenStdin bool
	listenURL   string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Score telemetry events as they arrive",
	Long: `Subscribe to the telemetry event stream and score every event. Anomalies
update the device's digital twin with its score and the recommended action.
With --stdin, events are read one JSON object per line until end of input.`,
	Example: `  shield listen --url wss://events.example/telemetry
  tail -f events.jsonl | shield listen --stdin`,
	RunE: runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(func(cfg *daemon.Config) {
		if listenURL != "" {
			cfg.Stream.URL = listenURL
		}
	})
	if err != nil {
		return err
	}
	defer d.Close()

	var src domain.EventSource
	switch {
	case listenStdin:
		src = eventstream.NewReaderSource(os.Stdin, d.Log.Named("stdin"))
	case d.Config.Stream.URL != "":
		src, err = eventstream.NewWebSocketSource(eventstream.WebSocketConfig{
			URL:           d.Config.Stream.URL,
			ConsumerGroup: d.Config.Stream.ConsumerGroup,
			Token:         d.Config.Stream.Token,
		}, d.Log.Named("stream"))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "listening on %s (group %s), Ctrl+C to stop\n",
			d.Config.Stream.URL, d.Config.Stream.ConsumerGroup)
	default:
		return fmt.Errorf("no event stream configured: set stream.url, EVENT_STREAM_URL, --url or --stdin: %w", domain.ErrConfig)
	}

	ctx, stop := signalContext()
	defer stop()
	return d.Listen(ctx, src)
}
