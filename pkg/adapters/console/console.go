// Package console runs dialogs on a terminal: one respondent, questions written to an
// io.Writer, replies read line by line from an io.Reader.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/limpopo/internal/markdown"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/muesli/termenv"
)

// Dispatcher routes inbound messages to dialogs. *session.Service implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, respondent domain.Respondent, msg domain.Message) error
}

// Console is a single-respondent Transport over a reader and a writer.
type Console struct {
	reader  *bufio.Reader
	out     *termenv.Output
	prompt  string
	profile *termenv.Profile
	render  func(string) (string, error)

	mu   sync.Mutex
	last domain.MessageID

	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// Option configures the Console.
type Option func(*Console)

// WithProfile forces a color profile. termenv.Ascii disables styling.
func WithProfile(profile termenv.Profile) Option {
	return func(c *Console) {
		c.profile = &profile
	}
}

// WithPrompt sets the marker printed before each read. Empty disables it.
func WithPrompt(prompt string) Option {
	return func(c *Console) {
		c.prompt = prompt
	}
}

// WithMarkdown renders message text with render instead of printing it as bold plain
// text. Rendering errors fall back to plain text.
func WithMarkdown(render func(string) (string, error)) Option {
	return func(c *Console) {
		c.render = render
	}
}

// New creates a console transport. Nil arguments select stdin and stdout.
func New(r io.Reader, w io.Writer, opts ...Option) *Console {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	c := &Console{
		reader: bufio.NewReader(r),
		prompt: "> ",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.profile != nil {
		c.out = termenv.NewOutput(w, termenv.WithProfile(*c.profile))
	} else {
		c.out = termenv.NewOutput(w)
	}
	return c
}

// Send implements ports.Transport. The topic is printed without markdown markup and
// options are numbered so that either the number or the text can be typed back.
func (c *Console) Send(ctx context.Context, _ string, payload domain.Payload) (domain.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.WriteString(c.text(payload.Text))
	b.WriteByte('\n')
	n := 0
	for _, row := range payload.Buttons {
		for _, button := range row {
			n++
			fmt.Fprintf(&b, "  %s %s\n", c.out.String(strconv.Itoa(n)+")").Faint(), button.Text)
		}
	}
	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return 0, fmt.Errorf("console: write: %w", err)
	}

	c.last++
	return c.last, nil
}

// Next reserves the ID of an inbound message.
func (c *Console) Next() domain.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last
}

// Run feeds the console's lines to dispatcher as messages of respondent until the input
// ends, the respondent types exit or quit, or ctx is cancelled. A non-empty start is
// dispatched first.
func (c *Console) Run(ctx context.Context, dispatcher Dispatcher, respondent domain.Respondent, start string) error {
	if start != "" {
		if err := dispatcher.Dispatch(ctx, respondent, domain.Message{ID: c.Next(), Text: start}); err != nil {
			return err
		}
	}

	for {
		text, err := c.readLine(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			c.notice("Bye!")
			return nil
		}

		err = dispatcher.Dispatch(ctx, respondent, domain.Message{ID: c.Next(), Text: text})
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, domain.ErrInvalidInput):
			c.notice(err.Error())
		default:
			return err
		}
	}
}

func (c *Console) text(src string) string {
	if c.render != nil {
		if out, err := c.render(src); err == nil {
			return out
		}
	}
	return c.out.String(markdown.PlainText(src)).Bold().String()
}

func (c *Console) notice(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.out.String(text).Italic())
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	c.startOnce.Do(func() {
		c.inputChan = make(chan inputResult)
		go c.pump()
	})

	if c.prompt != "" {
		c.mu.Lock()
		fmt.Fprint(c.out, c.prompt)
		c.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-c.inputChan:
		if !ok {
			return "", io.EOF
		}
		return res.text, res.err
	}
}

// pump reads lines for the lifetime of the process; the reader cannot be interrupted.
func (c *Console) pump() {
	defer close(c.inputChan)
	for {
		text, err := c.reader.ReadString('\n')
		if text != "" {
			c.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.inputChan <- inputResult{err: err}
			}
			return
		}
	}
}
