package repl

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestRunAnswersLines(t *testing.T) {
	out := &bufferCloser{}
	r := NewRepl(io.NopCloser(strings.NewReader("one\ntwo\n")), out)
	r.Prompt = "> "
	err := r.Run(func(in string, _ *Repl) (string, error) {
		return strings.ToUpper(in), nil
	})
	if err != nil {
		t.Fatalf("Run failed: %s", err)
	}
	if got := out.String(); got != "> ONE\n> TWO\n> " {
		t.Errorf("Unexpected output %q", got)
	}
}

func TestRunStopsOnHandlerError(t *testing.T) {
	out := &bufferCloser{}
	r := NewRepl(io.NopCloser(strings.NewReader("quit\nignored\n")), out)
	stop := errors.New("stop")
	calls := 0
	err := r.Run(func(string, *Repl) (string, error) {
		calls++
		return "", stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Expected the handler error, got %v", err)
	}
	if calls != 1 || !out.closed {
		t.Errorf("Repl should stop and close after the first error, %d calls", calls)
	}
}
