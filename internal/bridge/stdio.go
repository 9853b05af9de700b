package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// StdioPrefix marks protocol lines on stdout so a host can tell them apart
// from anything else the process prints.
const StdioPrefix = "@@GAMESYNC@@"

const maxLineSize = 1024 * 1024

// Stdio serves requests read as JSON lines from in and writes replies and
// events as prefixed JSON lines to out.
type Stdio struct {
	router

	in  io.Reader
	mu  sync.Mutex
	out io.Writer
}

// NewStdio creates a line-based transport over in and out.
func NewStdio(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{in: in, out: out}
}

// Send writes an event line.
func (s *Stdio) Send(channel string, payload any) error {
	msg, err := event(channel, payload)
	if err != nil {
		return err
	}
	return s.write(msg)
}

func (s *Stdio) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "%s%s\n", StdioPrefix, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Serve reads requests until in is closed or ctx ends. Requests are handled
// concurrently; Serve waits for the ones in flight before returning.
func (s *Stdio) Serve(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	logger.Info("stdio bridge started")
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			logger.Info("stdin closed, stopping stdio bridge")
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Channel == "" {
				logger.WithField("line", truncate(line, 200)).Debug("ignoring malformed request")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.write(s.dispatch(ctx, msg)); err != nil {
					logger.WithError(err).Warn("failed to send reply")
				}
			}()
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
