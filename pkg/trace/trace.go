// Package trace records every command exchange with the controller to a
// CBOR file for offline diagnosis of dialect quirks.
package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Exchange is one command and its reply as seen by the executor.
type Exchange struct {
	Timestamp time.Time     `cbor:"1,keyasint"`
	Device    string        `cbor:"2,keyasint,omitempty"`
	Command   string        `cbor:"3,keyasint"`
	Reply     string        `cbor:"4,keyasint,omitempty"`
	Error     string        `cbor:"5,keyasint,omitempty"`
	Elapsed   time.Duration `cbor:"6,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace decoder mode: %v", err))
	}
}

// Encode returns the CBOR form of ex.
func Encode(ex Exchange) ([]byte, error) {
	return encMode.Marshal(ex)
}

// Decode parses one CBOR encoded exchange.
func Decode(data []byte) (Exchange, error) {
	var ex Exchange
	if err := decMode.Unmarshal(data, &ex); err != nil {
		return Exchange{}, err
	}
	return ex, nil
}

// Reader streams exchanges from a trace.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next exchange, or io.EOF at the end of the trace.
func (r *Reader) Next() (Exchange, error) {
	var ex Exchange
	if err := r.dec.Decode(&ex); err != nil {
		return Exchange{}, err
	}
	return ex, nil
}
