// Package json provides JSON serialization for vmap with pooled buffers.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// Marshal serializes v to JSON.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal deserializes JSON data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// Encoder streams JSON values to an underlying writer, one per line.
type Encoder struct {
	w   io.Writer
	buf *bytes.Buffer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: bufferPool.Get().(*bytes.Buffer)}
}

// Encode writes the JSON encoding of v followed by a newline.
func (e *Encoder) Encode(v interface{}) error {
	e.buf.Reset()
	enc := gojson.NewEncoder(e.buf)
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := e.w.Write(e.buf.Bytes())
	return err
}

// Close returns the encoder's buffer to the pool. The encoder must not be
// used afterwards.
func (e *Encoder) Close() {
	if e.buf != nil {
		e.buf.Reset()
		bufferPool.Put(e.buf)
		e.buf = nil
	}
}
