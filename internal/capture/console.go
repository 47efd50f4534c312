// Package capture collects the console output a run produces so it can be
// persisted to the per-image log file instead of the process output.
package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// VersionTagMarker identifies the engine version banner that is never
// written to log files.
const VersionTagMarker = "cxi_version"

// Buffer accumulates console output line by line.
type Buffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Println writes its operands followed by a newline.
func (b *Buffer) Println(args ...any) {
	fmt.Fprintln(b, args...)
}

// Printf writes formatted output.
func (b *Buffer) Printf(format string, args ...any) {
	fmt.Fprintf(b, format, args...)
}

// Lines returns the captured output split on newlines. A trailing newline
// does not produce an empty final line.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	s := b.buf.String()
	b.mu.Unlock()
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// Banner centres title in a 100 column rule of dashes.
func Banner(title string) string {
	const width = 100
	n := len([]rune(title))
	if n >= width {
		return title
	}
	pad := width - n
	left := pad / 2
	return strings.Repeat("-", left) + title + strings.Repeat("-", pad-left)
}

// WriteLog writes lines to path, each preceded by a newline, skipping the
// version tag lines.
func WriteLog(path string, lines []string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("capture: ensure log dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("capture: create log %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if strings.Contains(line, VersionTagMarker) {
			continue
		}
		if _, err := io.WriteString(w, "\n"+line); err != nil {
			f.Close()
			return fmt.Errorf("capture: write log %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("capture: flush log %s: %w", path, err)
	}
	return f.Close()
}

type consoleKey struct{}

// WithConsole returns a context whose engine calls write console output to w.
func WithConsole(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, consoleKey{}, w)
}

// Console returns the writer attached by WithConsole, or io.Discard.
func Console(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(consoleKey{}).(io.Writer); ok && w != nil {
		return w
	}
	return io.Discard
}
