package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// stderrTailLimit bounds how much stderr is retained for classification.
const stderrTailLimit = 8 * 1024

// tailBuffer keeps the last stderrTailLimit bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > stderrTailLimit {
		excess := t.buf.Len() - stderrTailLimit
		t.buf.Next(excess)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// runCommand executes bin with args, feeding each stdout line to onLine
// (which may be nil) and retaining a bounded stderr tail. The returned
// string is that tail, populated on success and failure alike.
func runCommand(ctx context.Context, bin string, args []string, onLine func(string)) (string, error) {
	if bin == "" {
		return "", fmt.Errorf("required tool is not installed")
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", bin, err)
	}

	scanner := bufio.NewScanner(stdout)
	// yt-dlp -J prints its entire metadata document on one line, which for
	// long videos runs well past the default scanner limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	// Scanner errors surface through Wait below; the process has already
	// decided the outcome by the time the pipe breaks.

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return stderr.String(), ctx.Err()
		}
		return stderr.String(), fmt.Errorf("%s: %w", bin, err)
	}
	return stderr.String(), nil
}
