package progress

import "io"

// Reader wraps an io.Reader and advances a Sink by every block read through it.
type Reader struct {
	Reader io.Reader
	Sink   Sink
	read   int64
}

func NewReader(r io.Reader, sink Sink) *Reader {
	if sink == nil {
		sink = Discard
	}

	return &Reader{Reader: r, Sink: sink}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.Sink.Add(int64(n))
	}

	return n, err
}

// BytesRead returns the cumulative number of bytes read.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}
