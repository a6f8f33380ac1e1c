// pkg/capture/bwlimit.go

package capture

import (
	"io"

	"github.com/juju/ratelimit"
)

type limitedReader struct {
	io.Reader
	r *ratelimit.Bucket
}

func (l *limitedReader) Read(buf []byte) (int, error) {
	n, err := l.Reader.Read(buf)
	if l.r != nil {
		l.r.Wait(int64(n))
	}
	return n, err
}

// Close closes the underlying reader
func (l *limitedReader) Close() error {
	if rc, ok := l.Reader.(io.Closer); ok {
		return rc.Close()
	}
	return nil
}

// NewLimitedReader caps the rate a reader can be drained at, in bytes per
// second; zero means unlimited.
func NewLimitedReader(r io.Reader, bps int64) io.ReadCloser {
	l := &limitedReader{Reader: r}
	if bps > 0 {
		// there are overheads coming from SSH/TCP/IP
		l.r = ratelimit.NewBucketWithRate(float64(bps)*0.85, bps)
	}
	return l
}
