package resource

import (
	"context"
	"io"
)

type throttledWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// ThrottleWriter charges every write to the controller's transfer budget.
// With a nil controller w is returned unchanged.
func ThrottleWriter(ctx context.Context, w io.Writer, rc *Controller) io.Writer {
	if rc == nil || rc.transfer == nil {
		return w
	}
	return &throttledWriter{ctx: ctx, w: w, rc: rc}
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	if err := t.rc.WaitTransfer(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}

type throttledReader struct {
	ctx context.Context
	r   io.Reader
	rc  *Controller
}

// ThrottleReader charges the bytes actually read to the transfer budget.
func ThrottleReader(ctx context.Context, r io.Reader, rc *Controller) io.Reader {
	if rc == nil || rc.transfer == nil {
		return r
	}
	return &throttledReader{ctx: ctx, r: r, rc: rc}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.rc.WaitTransfer(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
