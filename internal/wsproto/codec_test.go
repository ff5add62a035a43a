package wsproto

import (
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFileChanged() *syncmsg.Message {
	return syncmsg.NewFileChanged("peer-a", syncmsg.OpMove, &syncmsg.FileRecord{
		Path:         "docs/b.txt",
		Size:         42,
		Checksum:     "abc",
		ModifiedTime: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}, "docs/a.txt")
}

func TestCodec_JSONText(t *testing.T) {
	typ, data, err := Marshal(testFileChanged(), EncodingJSON)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	decoded, enc, err := Unmarshal(typ, data)
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, enc)

	fc, ok := decoded.Data.(*syncmsg.FileChanged)
	require.True(t, ok)
	assert.Equal(t, "docs/b.txt", fc.Record.Path)
	assert.Equal(t, "docs/a.txt", fc.OldPath)
}

func TestCodec_MsgPackEnvelope(t *testing.T) {
	msg := testFileChanged()

	typ, data, err := Marshal(msg, EncodingMsgPack)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageBinary, typ)
	require.Greater(t, len(data), 4)
	assert.Equal(t, []byte{'P', 'S', 1, byte(EncodingMsgPack)}, data[:4])

	decoded, enc, err := Unmarshal(typ, data)
	require.NoError(t, err)
	assert.Equal(t, EncodingMsgPack, enc)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "peer-a", decoded.Origin)

	fc, ok := decoded.Data.(*syncmsg.FileChanged)
	require.True(t, ok)
	assert.Equal(t, syncmsg.OpMove, fc.Operation)
	assert.Equal(t, int64(42), fc.Record.Size)
	assert.True(t, fc.Record.ModifiedTime.Equal(msg.Data.(*syncmsg.FileChanged).Record.ModifiedTime))
	assert.NoError(t, decoded.Validate())
}

func TestCodec_BinaryWithoutEnvelope(t *testing.T) {
	_, _, err := Unmarshal(websocket.MessageBinary, []byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrBadEnvelope)
}

func TestCodec_BinaryUnknownVersion(t *testing.T) {
	_, _, err := Unmarshal(websocket.MessageBinary, []byte{'P', 'S', 9, 1, 0})
	assert.Error(t, err)
}

func TestPreferredEncoding(t *testing.T) {
	assert.Equal(t, EncodingMsgPack, PreferredEncoding("msgpack,json"))
	assert.Equal(t, EncodingJSON, PreferredEncoding(" JSON , msgpack"))
	assert.Equal(t, EncodingJSON, PreferredEncoding("cbor"))
	assert.Equal(t, EncodingJSON, PreferredEncoding(""))
}
