package http2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeDecode(t *testing.T, bs []byte) Frame {
	t.Helper()
	f, err := ParseFrame(bytes.NewReader(bs), 16384)
	require.NoError(t, err)
	return f
}

func TestDataFrameRoundTrip(t *testing.T) {
	df := &DataFrame{Data: []byte("hello"), EndStream: true}
	df.SetStream(NewStreamHandle(3))

	bs, err := df.Encode()
	require.NoError(t, err)

	f := encodeDecode(t, bs)
	got, ok := f.(*DataFrame)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got.Data)
	require.True(t, got.EndStream)
	require.Equal(t, uint32(3), got.Header().StreamID)
}

func TestDataFrameEncodePrefersBoundStreamOverFramedHeader(t *testing.T) {
	// A frame built directly by application code (no wire round trip) only
	// has Framed.Header.StreamID at its zero value; Encode must still emit
	// the id from the bound *StreamHandle instead of silently writing 0.
	df := &DataFrame{Data: []byte("x")}
	df.SetStream(NewStreamHandle(9))

	bs, err := df.Encode()
	require.NoError(t, err)

	got := encodeDecode(t, bs)
	require.Equal(t, uint32(9), got.Header().StreamID)
}

func TestRSTStreamFrameEncodePrefersBoundStream(t *testing.T) {
	rst := &RSTStreamFrame{ErrorCode: ErrCancel}
	rst.SetStream(NewStreamHandle(5))

	bs, err := rst.Encode()
	require.NoError(t, err)

	got := encodeDecode(t, bs)
	rf, ok := got.(*RSTStreamFrame)
	require.True(t, ok)
	require.Equal(t, uint32(5), rf.Header().StreamID)
	require.Equal(t, ErrCancel, rf.ErrorCode)
}

func TestWindowUpdateFrameEncodePrefersBoundStream(t *testing.T) {
	wu := &WindowUpdateFrame{SizeIncrement: 100}
	wu.SetStream(NewStreamHandle(7))

	bs, err := wu.Encode()
	require.NoError(t, err)

	got := encodeDecode(t, bs)
	require.Equal(t, uint32(7), got.Header().StreamID)
}

func TestHeadersFrameEncodePrefersBoundStream(t *testing.T) {
	h := &HeadersFrame{EndStream: true, EndHeaders: true}
	h.SetStream(NewStreamHandle(11))
	h.BlockFragment = []byte{}

	bs, err := h.Encode()
	require.NoError(t, err)

	got := encodeDecode(t, bs)
	hf, ok := got.(*HeadersFrame)
	require.True(t, ok)
	require.Equal(t, uint32(11), hf.Header().StreamID)
	require.True(t, hf.EndStream)
}

func TestParseFrameRejectsOversizedDataFrame(t *testing.T) {
	df := &DataFrame{Data: bytes.Repeat([]byte{'a'}, 100)}
	bs, err := df.Encode()
	require.NoError(t, err)

	_, err = ParseFrame(bytes.NewReader(bs), 10)
	require.ErrorIs(t, err, ErrExceedsMaxFrameSize)
}

func TestParseFrameUnknownType(t *testing.T) {
	bs := EncodeFrameHeaderOnly(t)
	_, err := ParseFrame(bytes.NewReader(bs), 16384)
	require.ErrorIs(t, err, ErrUnknownFrame)
}

// EncodeFrameHeaderOnly builds a zero-length frame of an unassigned frame
// type (0x7f) so ParseFrame's unknown-type branch is reachable without
// reaching into package internals from the test.
func EncodeFrameHeaderOnly(t *testing.T) []byte {
	t.Helper()
	bs, err := EncodeFrame(nil, FrameType(0x7f), 0, 1)
	require.NoError(t, err)
	return bs
}
