package transport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	payload := map[string]string{"hello": "world"}

	require.NoError(t, WriteFrame(&buf, FrameEncrypted, payload))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameEncrypted, frame.Type)
	require.JSONEq(t, `{"hello":"world"}`, string(frame.Payload))
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // absurd length prefix

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameTruncatedStream(t *testing.T) {
	r := strings.NewReader("\x00\x00\x00") // incomplete length prefix
	_, err := ReadFrame(r)
	require.Error(t, err)
}

func TestMultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameKeyExchange, map[string]int{"a": 1}))
	require.NoError(t, WriteFrame(&buf, FramePlain, map[string]int{"b": 2}))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameKeyExchange, first.Type)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FramePlain, second.Type)
}
