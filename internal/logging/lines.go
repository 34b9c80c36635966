package logging

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const maxLineSize = 1024 * 1024

// LineWriter forwards streamed command output to a logger, one event per line.
// Carriage returns split lines too, so progress bars do not pile up into
// a single event.
type LineWriter struct {
	pw *io.PipeWriter
	wg sync.WaitGroup

	mu   sync.Mutex
	tail []string
	keep int
}

// NewLineWriter starts a collector that logs every line at level with the
// given source field. The last keep lines are retained for error reports.
func NewLineWriter(log zerolog.Logger, level zerolog.Level, source string, keep int) *LineWriter {
	pr, pw := io.Pipe()
	lw := &LineWriter{pw: pw, keep: keep}

	lw.wg.Add(1)
	go lw.collect(pr, log.With().Str("source", source).Logger(), level)

	return lw
}

// Write implements io.Writer.
func (lw *LineWriter) Write(p []byte) (int, error) {
	return lw.pw.Write(p)
}

// Close flushes the pending line and waits for the collector to finish.
func (lw *LineWriter) Close() error {
	err := lw.pw.Close()
	lw.wg.Wait()
	return err
}

// Tail returns the most recent lines, oldest first.
func (lw *LineWriter) Tail() []string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return append([]string(nil), lw.tail...)
}

func (lw *LineWriter) collect(r *io.PipeReader, log zerolog.Logger, level zerolog.Level) {
	defer lw.wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLinesOrCR)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.WithLevel(level).Msg(line)
		lw.remember(line)
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("failed to read command output")
		// Keep draining so the writing process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (lw *LineWriter) remember(line string) {
	if lw.keep <= 0 {
		return
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.tail = append(lw.tail, line)
	if len(lw.tail) > lw.keep {
		lw.tail = lw.tail[len(lw.tail)-lw.keep:]
	}
}

func scanLinesOrCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
