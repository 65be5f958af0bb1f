package frontend

import (
	"bufio"
	"io"
)

// bufferedWriter is the per-socket write buffer: owned exclusively by its
// socket's handle, never shared, so it needs no locking.
type bufferedWriter struct {
	w *bufio.Writer
}

func newBufferedWriter(w io.Writer) *bufferedWriter {
	return &bufferedWriter{w: bufio.NewWriterSize(w, 16*1024)}
}

func (b *bufferedWriter) Write(data []byte) error {
	_, err := b.w.Write(data)
	return err
}

func (b *bufferedWriter) Flush() error { return b.w.Flush() }
