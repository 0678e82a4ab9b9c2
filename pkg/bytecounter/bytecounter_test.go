package bytecounter

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestReader(t *testing.T) {
	bc := NewReader(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04}))

	buf := make([]byte, 3)
	n, err := bc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = bc.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = bc.Read(buf)
	require.Equal(t, io.EOF, err)

	require.Equal(t, uint64(4), bc.BytesReceived())
	require.Equal(t, uint64(0), bc.ReadErrors())
}

func TestReaderErrors(t *testing.T) {
	bc := NewReader(iotest.ErrReader(errors.New("broken pipe")))

	_, err := bc.Read(make([]byte, 4))
	require.EqualError(t, err, "broken pipe")

	require.Equal(t, uint64(0), bc.BytesReceived())
	require.Equal(t, uint64(1), bc.ReadErrors())
}
