package cli

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Terminal progress bar for training runs.
// Shows: [=========>..........] 42% | epoch 21/50 | loss 0.012345 | ETA 3s

const barWidth = 30 // Characters for the progress bar

type progressBar struct {
	started time.Time
	out     io.Writer
}

func newProgressBar(out io.Writer) *progressBar {
	return &progressBar{
		started: time.Now(),
		out:     out,
	}
}

// update is a trainer.Options.Progress callback.
func (p *progressBar) update(epoch, epochs int, loss float64) {
	clearLine(p.out)
	fmt.Fprint(p.out, p.render(epoch, epochs, loss, time.Now()))
	if epoch >= epochs {
		fmt.Fprintln(p.out)
	}
}

func (p *progressBar) render(epoch, epochs int, loss float64, now time.Time) string {
	pct := 0.0
	if epochs > 0 {
		pct = float64(epoch) / float64(epochs) * 100
	}
	pct = min(max(pct, 0), 100)

	return fmt.Sprintf("  %s %3.0f%% | epoch %d/%d | loss %.6f | %s",
		renderBar(pct), pct, epoch, epochs, loss, p.calculateETA(pct, now))
}

// renderBar builds [=======>............].
func renderBar(pct float64) string {
	filled := min(int(pct/100*float64(barWidth)), barWidth)
	empty := barWidth - filled

	switch {
	case filled == barWidth:
		return "[" + strings.Repeat("=", filled) + "]"
	case filled > 0:
		return "[" + strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty) + "]"
	default:
		return "[" + strings.Repeat(".", barWidth) + "]"
	}
}

func (p *progressBar) calculateETA(pct float64, now time.Time) string {
	if pct <= 0 || pct >= 100 {
		return "ETA --"
	}

	elapsed := now.Sub(p.started).Seconds()
	if elapsed < 1 {
		return "ETA --"
	}

	totalEstimated := elapsed / (pct / 100)
	remaining := max(totalEstimated-elapsed, 0)

	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", int(remaining))
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", int(remaining)/60, int(remaining)%60)
	}
	return fmt.Sprintf("ETA %dh%dm", int(remaining)/3600, (int(remaining)%3600)/60)
}

func clearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}
