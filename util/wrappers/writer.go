package wrappers

import (
	"io"
	"sync"
)

// WriterWrapper is shared by the repl and the commands it starts, so writes are serialised
type WriterWrapper struct {
	isClosed bool
	wrapped  io.Writer
	lock     sync.Mutex
}

func NewWriterWrapper(wraps io.Writer) *WriterWrapper {
	return &WriterWrapper{
		isClosed: false,
		wrapped:  wraps,
	}
}

// Close implements io.WriteCloser without closing the wrapped writer
func (r *WriterWrapper) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.isClosed = true
	return nil
}

func (r *WriterWrapper) Write(p []byte) (n int, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.isClosed {
		return 0, ErrClosed
	}
	return r.wrapped.Write(p)
}
