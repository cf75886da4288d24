package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// ConsoleChannel reads prompts from a reader and prints replies as they
// stream in. It is the "console" origin of `pagechat chat`.
type ConsoleChannel struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	handler func(InboundMessage)
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConsoleChannel creates a console channel on the given streams.
func NewConsoleChannel(in io.Reader, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{in: in, out: out, done: make(chan struct{})}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	return nil
}

// Done is closed when the input reaches EOF.
func (c *ConsoleChannel) Done() <-chan struct{} { return c.done }

func (c *ConsoleChannel) Send(_ context.Context, msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s\n> ", msg.Text)
	return err
}

func (c *ConsoleChannel) WriteChunk(_ string, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, delta)
}

func (c *ConsoleChannel) EndStream(_ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "\n\n> ")
}

func (c *ConsoleChannel) OnMessage(handler func(InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *ConsoleChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	defer close(c.done)
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	c.mu.Lock()
	fmt.Fprint(c.out, "> ")
	c.mu.Unlock()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := scanner.Text()
		if text == "" {
			c.mu.Lock()
			fmt.Fprint(c.out, "> ")
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		if handler != nil {
			handler(InboundMessage{
				ChannelName: "console",
				SenderID:    "local",
				SenderName:  "User",
				Text:        text,
				Timestamp:   time.Now(),
			})
		}
	}
}
