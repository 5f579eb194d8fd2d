package trace

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"lx200/pkg/protocol"
)

// FileTracer appends exchanges to a file. It implements protocol.Observer
// and is safe for concurrent use.
type FileTracer struct {
	device string
	now    func() time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
}

// NewFileTracer opens path for appending, creating it if needed. Device
// tags every record.
func NewFileTracer(path, device string) (*FileTracer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileTracer{
		device:  device,
		now:     time.Now,
		file:    f,
		encoder: encMode.NewEncoder(f),
	}, nil
}

func (t *FileTracer) Exchange(command string, resp protocol.Response, err error, elapsed time.Duration) {
	ex := Exchange{
		Timestamp: t.now(),
		Device:    t.device,
		Command:   command,
		Reply:     resp.Raw,
		Elapsed:   elapsed,
	}
	if err != nil {
		ex.Error = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	// a failed trace write must not disturb the mount
	_ = t.encoder.Encode(ex)
}

// Close closes the file. Later exchanges are dropped.
func (t *FileTracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.file.Close()
}

var _ protocol.Observer = (*FileTracer)(nil)
