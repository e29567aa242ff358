package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncoding(t *testing.T) {
	cases := []struct {
		name string
		want Encoding
	}{
		{"", Raw},
		{"raw", Raw},
		{"utf-8", UTF8},
		{"utf8", UTF8},
		{"HEX", Hex},
		{"base64", Base64},
	}
	for _, tc := range cases {
		enc, err := ParseEncoding(tc.name)
		require.NoError(t, err, "encoding %q", tc.name)
		assert.Equal(t, tc.want, enc, "encoding %q", tc.name)
	}

	_, err := ParseEncoding("ebcdic")
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestChunkLen(t *testing.T) {
	assert.Equal(t, 5, StringChunk("hello").Len())
	assert.Equal(t, 0, BytesChunk(nil).Len())
	assert.Equal(t, 1, ObjectChunk(map[string]int{"a": 1}).Len())
}

func TestChunkText(t *testing.T) {
	c := StringChunk("hi")
	assert.Equal(t, "hi", c.Text())
	assert.Equal(t, "6869", c.WithEncoding(Hex).Text())
	assert.Equal(t, "aGk=", c.WithEncoding(Base64).Text())
	assert.Equal(t, "42", ObjectChunk(42).Text())
}

func TestChunkKind(t *testing.T) {
	b := BytesChunk([]byte{1, 2})
	assert.False(t, b.IsObject())
	assert.Nil(t, b.Object())

	o := ObjectChunk("v")
	assert.True(t, o.IsObject())
	assert.Nil(t, o.Bytes())
	assert.Equal(t, "v", o.Object())
}

func TestEncodingString(t *testing.T) {
	assert.Equal(t, "raw", Raw.String())
	assert.Equal(t, "utf-8", UTF8.String())
	assert.Equal(t, "hex", Hex.String())
	assert.Equal(t, "base64", Base64.String())
}
