// Package terminal implements the human prompter on a terminal.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompter writes questions to out and reads one line per answer from in.
// When in is not an interactive terminal every question is skipped.
//
// Lines are read by a helper goroutine only while an Ask is waiting, so an Ask
// abandoned by its context does not lose or reorder input: the late line is
// the answer to the next Ask. Close stops the helper once it is idle; a read
// that is still blocked on in ends when in delivers a line or closes.
type Prompter struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool

	start   sync.Once
	reqs    chan struct{}
	lines   chan line
	pending bool // a line was requested and not yet consumed
	done    bool // in is exhausted or the prompter is closed
	closed  bool
}

// NewStdio returns a Prompter on stdin/stderr.
func NewStdio() *Prompter {
	return New(os.Stdin, os.Stderr, term.IsTerminal(int(os.Stdin.Fd()))) //nolint:gosec // fd fits in int
}

// New returns a Prompter on the given streams.
func New(in io.Reader, out io.Writer, interactive bool) *Prompter {
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		reqs:        make(chan struct{}, 1),
		lines:       make(chan line, 1),
	}
}

// read serves one line per request until in fails or reqs is closed.
func (p *Prompter) read() {
	for range p.reqs {
		s, err := p.in.ReadString('\n')
		p.lines <- line{text: s, err: err}
		if err != nil {
			return
		}
	}
}

type line struct {
	text string
	err  error
}

// Ask prints the question and waits for one line. An empty line skips the
// question. Ask returns ctx.Err() if the context ends first.
func (p *Prompter) Ask(ctx context.Context, question string) (string, error) {
	if !p.interactive {
		return "", nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return "", nil
	}

	if _, err := fmt.Fprintf(p.out, "\n? %s\n> ", question); err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}

	p.start.Do(func() { go p.read() })
	if !p.pending {
		p.reqs <- struct{}{}
		p.pending = true
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-p.lines:
		p.pending = false
		if l.err != nil {
			p.done = true
			if !errors.Is(l.err, io.EOF) {
				return "", fmt.Errorf("read answer: %w", l.err)
			}
		}
		return strings.TrimSpace(l.text), nil
	}
}

// Close stops the reader goroutine. Later calls to Ask skip every question.
func (p *Prompter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.done = true
	close(p.reqs)
}
