package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Console writes notifications as plain text, one block per notification.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console notifier writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(ctx context.Context, n *Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stamp := time.Now().Format(time.DateTime)
	if !n.AirAt.IsZero() {
		stamp = n.AirAt.Local().Format(time.DateTime)
	}
	if _, err := fmt.Fprintf(c.out, "[%s] %s\n%s\n", stamp, n.Title, n.Body); err != nil {
		return fmt.Errorf("write console notification: %w", err)
	}
	if n.URL != "" {
		fmt.Fprintf(c.out, "%s\n", n.URL)
	}
	return nil
}
