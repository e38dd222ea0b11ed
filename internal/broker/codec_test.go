package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	URL      string   `json:"url"`
	Priority Priority `json:"priority"`
}

func TestJSONCodec(t *testing.T) {
	t.Parallel()

	data, err := JSON.Encode(sample{URL: "https://a.example/", Priority: High})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://a.example/","priority":"High"}`, string(data))

	var got sample
	require.NoError(t, JSON.Decode(data, &got))
	assert.Equal(t, High, got.Priority)
	assert.Equal(t, "application/json", JSON.ContentType())

	require.Error(t, JSON.Decode([]byte("{"), &got))
	_, err = JSON.Encode(make(chan int))
	require.Error(t, err)
}

func TestRawCodecRejectsNonBytes(t *testing.T) {
	t.Parallel()

	data, err := Raw.Encode([]byte{0x00, 0xff})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, data)

	_, err = Raw.Encode("text")
	require.Error(t, err)
	_, err = Raw.Encode(sample{})
	require.Error(t, err)

	var out []byte
	require.NoError(t, Raw.Decode(data, &out))
	assert.Equal(t, data, out)
	require.Error(t, Raw.Decode(data, new(string)))
}

func TestTextCodec(t *testing.T) {
	t.Parallel()

	data, err := Text.Encode("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = Text.Encode([]byte("hello"))
	require.Error(t, err)

	var out string
	require.NoError(t, Text.Decode([]byte("world"), &out))
	assert.Equal(t, "world", out)
	require.Error(t, Text.Decode(data, new([]byte)))
}
