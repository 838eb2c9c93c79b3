package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
)

func TestCommandSurvivesTheWire(t *testing.T) {
	src := message.Loc{AppURI: "tcp://a:8001/", GraphID: "g-1", ExtensionName: "asker"}
	dest := message.Loc{AppURI: "tcp://b:8001/", GraphID: "g-1", ExtensionName: "answerer"}

	cmd := message.NewCmd("ping",
		message.WithSource(src),
		message.WithProperty("session", "s-1"),
		message.WithProperty("attempt", 2))
	cmd.PushReturn(src)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, dest, cmd))

	decoded, gotDest, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, dest, gotDest)

	restored, ok := decoded.(*message.Cmd)
	require.True(t, ok)
	assert.Equal(t, cmd.ID(), restored.ID())
	assert.Equal(t, cmd.CmdID(), restored.CmdID(), "correlation id must survive")
	assert.Equal(t, "ping", restored.Name())
	assert.Equal(t, src, restored.Source())
	assert.Equal(t, []message.Loc{src}, restored.ReturnPath(), "return path must survive")
	assert.Equal(t, "s-1", restored.Properties().GetString("session", ""))
	assert.Equal(t, 2, restored.Properties().GetInt("attempt", 0))
}

func TestResultSurvivesTheWire(t *testing.T) {
	hop := message.Loc{AppURI: "tcp://a:8001/", GraphID: "g-1", ExtensionName: "asker"}
	cmd := message.NewCmd("ping")
	cmd.PushReturn(hop)
	result := message.NewResult(cmd, message.StatusError, "backend unavailable", true)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, hop, result))

	decoded, _, err := ReadFrame(&buf)
	require.NoError(t, err)

	restored, ok := decoded.(*message.CmdResult)
	require.True(t, ok)
	assert.Equal(t, cmd.CmdID(), restored.CmdID())
	assert.Equal(t, message.StatusError, restored.Status())
	assert.Equal(t, "backend unavailable", restored.Detail())
	assert.True(t, restored.IsFinal())
	assert.Equal(t, []message.Loc{hop}, restored.ReturnPath())
}

func TestAudioFrameMetadataSurvivesTheWire(t *testing.T) {
	frame := message.NewAudioFrame("pcm", []byte{1, 2, 3, 4})
	frame.SampleRate = 16000
	frame.Channels = 1
	frame.BytesPerSample = 2
	frame.SamplesPerChannel = 2
	frame.EOF = true

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, message.Loc{ExtensionName: "stt"}, frame))

	decoded, _, err := ReadFrame(&buf)
	require.NoError(t, err)

	restored, ok := decoded.(*message.AudioFrame)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, restored.Buf())
	assert.Equal(t, 16000, restored.SampleRate)
	assert.Equal(t, 2, restored.BytesPerSample)
	assert.True(t, restored.EOF)
}

func TestTypeTagMatchesMessageType(t *testing.T) {
	frame, err := EncodeFrame(message.Loc{}, message.NewData("d", nil))
	require.NoError(t, err)
	assert.Equal(t, byte(message.TypeData), frame[lenPrefixSize])
}

func TestOversizeFrameRefused(t *testing.T) {
	data := message.NewData("blob", make([]byte, MaxFrameSize+1))
	_, err := EncodeFrame(message.Loc{}, data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFrameTooLarge))
}

func TestOversizeLengthPrefixRefused(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])

	_, _, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFrameTooLarge))
}

func TestMalformedBodyRefused(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{byte(message.TypeCommand), 0xc1, 0xff, 0xff} // 0xc1 is never valid msgpack
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)

	_, _, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedFrame))
}

func TestUnknownTypeTagRefused(t *testing.T) {
	_, _, err := DecodeFrame(0x7f, []byte{0x80}) // empty msgpack map
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedFrame))
}

func TestBackToBackFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, message.Loc{ExtensionName: "a"}, message.NewData("one", []byte("1"))))
	require.NoError(t, WriteFrame(&buf, message.Loc{ExtensionName: "b"}, message.NewData("two", []byte("2"))))

	first, dest, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "one", first.Name())
	assert.Equal(t, "a", dest.ExtensionName)

	second, dest, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "two", second.Name())
	assert.Equal(t, "b", dest.ExtensionName)
}
