package wrappers

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWrappersLeaveWrappedOpen(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterWrapper(&buf)
	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatalf("Write failed: %s", err)
	}
	w.Close()
	if _, err := w.Write([]byte("again")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if buf.String() != "hi" {
		t.Errorf("Unexpected output %q", buf.String())
	}

	r := NewReaderWrapper(strings.NewReader("data"))
	r.Close()
	if _, err := r.Read(make([]byte, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

// blockingReader hands out its data once released
type blockingReader struct {
	release chan struct{}
	data    string
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.release
	return copy(p, b.data), nil
}

func TestReaderClosedWhileReading(t *testing.T) {
	src := &blockingReader{release: make(chan struct{}), data: "late"}
	r := NewReaderWrapper(src)
	done := make(chan error)
	go func() {
		n, err := r.Read(make([]byte, 4))
		if n != 0 {
			err = errors.New("read returned data after close")
		}
		done <- err
	}()
	r.Close()
	close(src.release)
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
