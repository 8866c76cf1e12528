package eventstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/synapseshield/shield/internal/domain"
)

// maxLine bounds a single event line.
const maxLine = 1 << 20

// ReaderSource reads one event per line from r. Blank lines are skipped.
// Run returns nil at end of input.
type ReaderSource struct {
	r   io.Reader
	log *zap.SugaredLogger
}

// NewReaderSource creates a line-delimited source over r.
func NewReaderSource(r io.Reader, log *zap.SugaredLogger) *ReaderSource {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ReaderSource{r: r, log: log}
}

// Run feeds each line to handle until EOF or ctx is cancelled. Lines longer
// than maxLine are skipped with a warning.
func (s *ReaderSource) Run(ctx context.Context, handle domain.EventHandler) error {
	br := bufio.NewReaderSize(s.r, 64*1024)
	var buf []byte
	line := 0
	oversize := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversize {
			buf = append(buf, chunk...)
			if len(buf) > maxLine {
				oversize = true
				buf = buf[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("read events: %w", err)
		}
		if len(chunk) > 0 || len(buf) > 0 || oversize {
			line++
		}

		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if oversize {
			s.log.Warnw("event line too long, skipped", "line", line, "limit", maxLine)
		} else if body := bytes.TrimSpace(buf); len(body) > 0 {
			if herr := handle(ctx, bytes.Clone(body)); herr != nil {
				s.log.Errorw("event handler failed", "line", line, "error", herr)
			}
		}
		buf = buf[:0]
		oversize = false

		if err == io.EOF {
			return nil
		}
	}
}
