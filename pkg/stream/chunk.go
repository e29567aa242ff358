package stream

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding identifies how a byte chunk's payload is rendered as text.
// Decoding is deferred: chunks carry the declared encoding and Text
// applies it on demand.
type Encoding int

const (
	// Raw renders bytes as an uninterpreted string.
	Raw Encoding = iota

	// UTF8 renders bytes as UTF-8 text.
	UTF8

	// Hex renders bytes as lowercase hexadecimal text.
	Hex

	// Base64 renders bytes as standard base64 text.
	Base64
)

// ParseEncoding resolves an encoding by name. Recognized names are
// "raw" (or empty), "utf-8"/"utf8", "hex", and "base64".
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(name) {
	case "", "raw":
		return Raw, nil
	case "utf-8", "utf8":
		return UTF8, nil
	case "hex":
		return Hex, nil
	case "base64":
		return Base64, nil
	default:
		return Raw, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

// String returns the canonical name of the encoding.
func (e Encoding) String() string {
	switch e {
	case UTF8:
		return "utf-8"
	case Hex:
		return "hex"
	case Base64:
		return "base64"
	default:
		return "raw"
	}
}

// Chunk is one unit of streamed data: either raw bytes or an arbitrary
// object. Which of the two a stream carries is fixed at construction
// (object mode vs byte mode); Len reports the declared length used for
// high-water-mark accounting (object chunks count as 1).
type Chunk struct {
	data   []byte
	obj    any
	object bool
	enc    Encoding
}

// BytesChunk wraps a byte slice in a chunk. The slice is not copied;
// producers hand over ownership when pushing.
func BytesChunk(b []byte) Chunk {
	return Chunk{data: b}
}

// StringChunk wraps a string's bytes in a chunk.
func StringChunk(s string) Chunk {
	return Chunk{data: []byte(s)}
}

// ObjectChunk wraps an arbitrary value in an object-mode chunk.
func ObjectChunk(v any) Chunk {
	return Chunk{obj: v, object: true}
}

// IsObject reports whether the chunk carries an object rather than bytes.
func (c Chunk) IsObject() bool { return c.object }

// Len returns the chunk's declared length: byte count in byte mode, 1 in
// object mode.
func (c Chunk) Len() int {
	if c.object {
		return 1
	}
	return len(c.data)
}

// Bytes returns the chunk's byte payload (nil for object chunks).
func (c Chunk) Bytes() []byte { return c.data }

// Object returns the chunk's object payload (nil for byte chunks).
func (c Chunk) Object() any { return c.obj }

// Encoding returns the chunk's declared text encoding.
func (c Chunk) Encoding() Encoding { return c.enc }

// WithEncoding returns a copy of the chunk tagged with the given encoding.
func (c Chunk) WithEncoding(enc Encoding) Chunk {
	c.enc = enc
	return c
}

// Text renders the chunk's bytes according to its declared encoding.
// Object chunks render via fmt.
func (c Chunk) Text() string {
	if c.object {
		return fmt.Sprint(c.obj)
	}
	switch c.enc {
	case Hex:
		return hex.EncodeToString(c.data)
	case Base64:
		return base64.StdEncoding.EncodeToString(c.data)
	default:
		return string(c.data)
	}
}
