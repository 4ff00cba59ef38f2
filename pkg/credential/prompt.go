package credential

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const DefaultPromptMessage = "Enter your wallet private key: "

// LinePrompter writes a prompt and reads a single line of input.
type LinePrompter struct {
	in      io.Reader
	out     io.Writer
	message string
}

func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: in, out: out, message: DefaultPromptMessage}
}

func (p *LinePrompter) Prompt(ctx context.Context) (string, error) {
	if _, err := fmt.Fprint(p.out, p.message); err != nil {
		return "", err
	}

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		done <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.line, r.err
	}
}
