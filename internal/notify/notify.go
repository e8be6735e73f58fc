// Package notify is the confirmation and notification surface used by the
// board and the request store.
package notify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Notifier asks the operator to confirm mutations and reports their outcome.
type Notifier interface {
	Confirm(ctx context.Context, title, text string) (bool, error)
	Error(title, detail string)
	Success(title string)
}

// userMessager is implemented by errors that carry a message fit for display,
// such as API errors with a server supplied message.
type userMessager interface {
	UserMessage() string
}

// Message picks the text shown for err: the server's message when there is
// one, otherwise fallback.
func Message(err error, fallback string) string {
	var um userMessager
	if errors.As(err, &um) {
		if msg := strings.TrimSpace(um.UserMessage()); msg != "" {
			return msg
		}
	}
	return fallback
}

// Terminal prompts on In and writes notices to Out.
type Terminal struct {
	In        io.Reader
	Out       io.Writer
	AssumeYes bool

	once   sync.Once
	reader *bufio.Reader
	mu     sync.Mutex
}

func (t *Terminal) Confirm(ctx context.Context, title, text string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.Out, "%s\n%s [y/N]: ", title, text)
	if t.AssumeYes {
		fmt.Fprintln(t.Out, "y")
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.once.Do(func() { t.reader = bufio.NewReader(t.In) })
	line, err := t.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (t *Terminal) Error(title, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.Out, "✗ %s: %s\n", title, detail)
}

func (t *Terminal) Success(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.Out, "✓ %s\n", title)
}
