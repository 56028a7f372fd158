// ABOUTME: Stdio transport for the MCP bridge using newline-delimited frames
// ABOUTME: Reads one JSON-RPC request per line from stdin, writes one response per line

package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// maxFrameSize bounds a single stdio frame (1MB, matching the HTTP transport).
const maxFrameSize = 1 << 20

// StdioTransport serves MCP over newline-delimited JSON-RPC frames. One frame
// per line in, one frame per line out; blank lines are skipped. It shares the
// dispatcher with the HTTP transport, so identical requests yield identical
// response bytes on either.
type StdioTransport struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger

	writeMu sync.Mutex
}

// NewStdioTransport creates a stdio transport reading frames from in and
// writing responses to out.
func NewStdioTransport(dispatcher *Dispatcher, in io.Reader, out io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		dispatcher: dispatcher,
		in:         in,
		out:        out,
		logger:     logger.With("component", "mcp-stdio"),
	}
}

// Run reads frames until EOF or ctx cancellation. Each frame is dispatched
// on the calling goroutine: stdio clients expect responses in request order.
func (t *StdioTransport) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, ok := t.dispatcher.Dispatch(ctx, []byte(line))
		if !ok {
			continue
		}
		if err := t.writeFrame(resp); err != nil {
			return fmt.Errorf("writing response frame: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading frames: %w", err)
	}
	t.logger.Info("stdin closed, shutting down")
	return nil
}

func (t *StdioTransport) writeFrame(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.out.Write(frame); err != nil {
		return err
	}
	_, err := t.out.Write([]byte("\n"))
	return err
}
