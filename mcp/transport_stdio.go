package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// StreamTransport speaks newline-delimited JSON-RPC over a reader and a
// writer, such as the two ends of an io.Pipe.
type StreamTransport struct {
	mu     sync.Mutex
	writer io.WriteCloser
	recvCh chan Message
	errCh  chan error
	closed bool
}

// NewStreamTransport starts reading frames from r. Frames are written to w.
func NewStreamTransport(r io.Reader, w io.WriteCloser) *StreamTransport {
	t := &StreamTransport{
		writer: w,
		recvCh: make(chan Message, 64),
		errCh:  make(chan error, 1),
	}
	go t.readLoop(r)
	return t
}

func (t *StreamTransport) readLoop(r io.Reader) {
	decoder := json.NewDecoder(bufio.NewReader(r))
	for {
		var message Message
		if err := decoder.Decode(&message); err != nil {
			t.sendErr(fmt.Errorf("mcp: decode frame: %w", err))
			return
		}
		select {
		case t.recvCh <- message:
		default:
			t.sendErr(errors.New("mcp: receive queue is full"))
			return
		}
	}
}

// Send writes one JSON-RPC frame.
func (t *StreamTransport) Send(ctx context.Context, message Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("mcp: transport is closed")
	}
	if t.writer == nil {
		return errors.New("mcp: transport writer is not available")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("mcp: write request: %w", err)
	}
	return nil
}

// Receive returns the next decoded frame.
func (t *StreamTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case message := <-t.recvCh:
		return message, nil
	case err := <-t.errCh:
		return Message{}, err
	}
}

// Close closes the writer. The read side ends when the peer closes.
func (t *StreamTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.writer != nil {
		return t.writer.Close()
	}
	return nil
}

func (t *StreamTransport) sendErr(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

// StdioTransportConfig configures a stdio MCP transport.
type StdioTransportConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	// Stderr receives the subprocess diagnostic stream. Discarded when nil.
	Stderr io.Writer
}

// StdioTransport implements MCP transport over a subprocess stdin/stdout pipe.
type StdioTransport struct {
	*StreamTransport

	mu     sync.Mutex
	cmd    *exec.Cmd
	waitCh chan struct{}
	closed bool
}

// NewStdioTransport starts an MCP server subprocess.
func NewStdioTransport(ctx context.Context, cfg StdioTransportConfig) (*StdioTransport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("mcp: stdio command is required")
	}

	args := slices.Clone(cfg.Args)
	// #nosec G204 -- command/args come from the caller, not from the wire.
	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(cfg.Env)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdio open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdio open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdio open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: stdio start: %w", err)
	}

	t := &StdioTransport{
		StreamTransport: NewStreamTransport(stdout, stdin),
		cmd:             cmd,
		waitCh:          make(chan struct{}),
	}
	go t.waitLoop(stderr, cfg.Stderr)
	return t, nil
}

func (t *StdioTransport) waitLoop(stderr io.Reader, sink io.Writer) {
	defer close(t.waitCh)

	if sink == nil {
		sink = io.Discard
	}
	_, _ = io.Copy(sink, stderr)

	err := t.cmd.Wait()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if err != nil && !closed {
		t.sendErr(fmt.Errorf("mcp: stdio process exited: %w", err))
	}
}

// Close closes the subprocess stdin and waits for it to exit.
func (t *StdioTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	_ = t.StreamTransport.Close(ctx)

	select {
	case <-t.waitCh:
		return nil
	case <-ctx.Done():
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		return ctx.Err()
	}
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
