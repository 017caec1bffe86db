package signalr

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deflateBase64(t *testing.T, payload string) string {
	t.Helper()
	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = writer.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodePayload_RoundTrip(t *testing.T) {
	decoded, err := DecodePayload(deflateBase64(t, `{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, decoded)
}

func TestDecodePayload_KnownVector(t *testing.T) {
	// base64(deflate(`{"x":1}`)) produced by a reference implementation
	decoded, err := DecodePayload("q1aqULIyrAUA")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, decoded)
}

func TestDecodePayload_BadBase64(t *testing.T) {
	_, err := DecodePayload("!!! not base64 !!!")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodePayload_CorruptDeflate(t *testing.T) {
	wire := base64.StdEncoding.EncodeToString([]byte("this is not a deflate stream"))
	_, err := DecodePayload(wire)
	assert.ErrorIs(t, err, ErrDecode)
}
