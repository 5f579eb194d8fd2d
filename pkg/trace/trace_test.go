package trace

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lx200/pkg/protocol"
)

func TestEncodeDecode(t *testing.T) {
	ex := Exchange{
		Timestamp: time.Date(2024, 3, 5, 20, 0, 0, 123, time.UTC),
		Device:    "Mount",
		Command:   ":GR#",
		Reply:     "10:00:00",
		Elapsed:   12 * time.Millisecond,
	}
	data, err := Encode(ex)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, ex.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, ex.Command, decoded.Command)
	assert.Equal(t, ex.Reply, decoded.Reply)
	assert.Equal(t, ex.Elapsed, decoded.Elapsed)
}

func TestFileTracer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mount.trace")

	tracer, err := NewFileTracer(path, "Mount")
	require.NoError(t, err)
	tracer.Exchange(":GVP#", protocol.Response{Raw: "AM5"}, nil, time.Millisecond)
	tracer.Exchange(":GR#", protocol.Response{}, protocol.ErrTimeout, time.Second)
	require.NoError(t, tracer.Close())
	require.NoError(t, tracer.Close())

	// dropped after close
	tracer.Exchange(":GD#", protocol.Response{}, nil, 0)

	// appends on reopen
	tracer, err = NewFileTracer(path, "Guider")
	require.NoError(t, err)
	tracer.Exchange(":Mgn0100#", protocol.Response{}, nil, 0)
	require.NoError(t, tracer.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := NewReader(f)
	var got []Exchange
	for {
		ex, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ex)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "AM5", got[0].Reply)
	assert.Equal(t, "Mount", got[0].Device)
	assert.Equal(t, protocol.ErrTimeout.Error(), got[1].Error)
	assert.Equal(t, "Guider", got[2].Device)
	assert.Equal(t, ":Mgn0100#", got[2].Command)
}

func TestNewFileTracerFails(t *testing.T) {
	_, err := NewFileTracer(filepath.Join(t.TempDir(), "missing", "x.trace"), "Mount")
	assert.Error(t, err)
}
