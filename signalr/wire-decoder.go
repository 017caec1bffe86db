package signalr

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var ErrDecode = errors.New("undecodable hub payload")

// DecodePayload unpacks the payload string carried on a hub method:
// base64 text wrapping a raw DEFLATE stream (no zlib or gzip header)
// that inflates to UTF-8.
func DecodePayload(wire string) (string, error) {
	compressed, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %s", ErrDecode, err)
	}

	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	inflated, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: deflate: %s", ErrDecode, err)
	}

	if !utf8.Valid(inflated) {
		return "", fmt.Errorf("%w: inflated payload is not utf-8", ErrDecode)
	}
	return string(inflated), nil
}
