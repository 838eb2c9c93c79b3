package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
)

// MaxFrameSize bounds a single frame (tag + body). Frames above it are
// refused on both the encode and decode side.
const MaxFrameSize = 16 << 20

const lenPrefixSize = 4

// wireBody is the msgpack frame body. One struct covers every message
// kind; the type tag decides which fields are meaningful.
type wireBody struct {
	ID         string         `msgpack:"id"`
	Name       string         `msgpack:"name"`
	Source     message.Loc    `msgpack:"src"`
	Dest       message.Loc    `msgpack:"dest"`
	Properties map[string]any `msgpack:"props,omitempty"`
	Buf        []byte         `msgpack:"buf,omitempty"`

	// Command / result correlation
	CmdID      string        `msgpack:"cmd_id,omitempty"`
	ReturnPath []message.Loc `msgpack:"return_path,omitempty"`
	Status     uint8         `msgpack:"status,omitempty"`
	Detail     string        `msgpack:"detail,omitempty"`
	IsFinal    bool          `msgpack:"is_final,omitempty"`

	// Audio frame metadata
	SampleRate        int  `msgpack:"sample_rate,omitempty"`
	Channels          int  `msgpack:"channels,omitempty"`
	BytesPerSample    int  `msgpack:"bytes_per_sample,omitempty"`
	SamplesPerChannel int  `msgpack:"samples_per_channel,omitempty"`
	EOF               bool `msgpack:"eof,omitempty"`

	// Video frame metadata
	PixelFmt    string `msgpack:"pixel_fmt,omitempty"`
	Width       int    `msgpack:"width,omitempty"`
	Height      int    `msgpack:"height,omitempty"`
	TimestampUs int64  `msgpack:"timestamp_us,omitempty"`
}

// EncodeFrame serializes one message bound for dest into a complete
// frame: length prefix, type tag, msgpack body.
func EncodeFrame(dest message.Loc, msg message.Message) ([]byte, error) {
	body := wireBody{
		ID:         msg.ID(),
		Name:       msg.Name(),
		Source:     msg.Source(),
		Dest:       dest,
		Properties: msg.Properties(),
	}

	switch m := msg.(type) {
	case *message.Cmd:
		body.CmdID = m.CmdID()
		body.ReturnPath = m.ReturnPath()
	case *message.CmdResult:
		body.CmdID = m.CmdID()
		body.ReturnPath = m.ReturnPath()
		body.Status = uint8(m.Status())
		body.Detail = m.Detail()
		body.IsFinal = m.IsFinal()
	case *message.Data:
		body.Buf = m.Buf()
	case *message.AudioFrame:
		body.Buf = m.Buf()
		body.SampleRate = m.SampleRate
		body.Channels = m.Channels
		body.BytesPerSample = m.BytesPerSample
		body.SamplesPerChannel = m.SamplesPerChannel
		body.EOF = m.EOF
	case *message.VideoFrame:
		body.Buf = m.Buf()
		body.PixelFmt = m.PixelFmt
		body.Width = m.Width
		body.Height = m.Height
		body.TimestampUs = m.TimestampUs
		body.EOF = m.EOF
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"protocol", "EncodeFrame", fmt.Sprintf("unroutable message kind %T", msg))
	}

	encoded, err := msgpack.Marshal(&body)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "EncodeFrame", "msgpack encode")
	}

	payload := 1 + len(encoded)
	if payload > MaxFrameSize {
		return nil, errors.WrapInvalid(errors.ErrFrameTooLarge, "protocol", "EncodeFrame",
			fmt.Sprintf("%d bytes", payload))
	}

	frame := make([]byte, lenPrefixSize+payload)
	binary.BigEndian.PutUint32(frame, uint32(payload))
	frame[lenPrefixSize] = byte(msg.Type())
	copy(frame[lenPrefixSize+1:], encoded)
	return frame, nil
}

// WriteFrame encodes and writes one message to w.
func WriteFrame(w io.Writer, dest message.Loc, msg message.Message) error {
	frame, err := EncodeFrame(dest, msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return errors.WrapTransient(err, "protocol", "WriteFrame", "frame write")
	}
	return nil
}

// ReadFrame reads one complete frame from r and decodes it to the
// concrete message subtype plus its destination Loc.
func ReadFrame(r io.Reader) (message.Message, message.Loc, error) {
	var header [lenPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, message.Loc{}, errors.WrapTransient(err,
			"protocol", "ReadFrame", "length prefix read")
	}

	payload := binary.BigEndian.Uint32(header[:])
	if payload < 1 {
		return nil, message.Loc{}, errors.WrapInvalid(errors.ErrMalformedFrame,
			"protocol", "ReadFrame", "zero-length payload")
	}
	if payload > MaxFrameSize {
		return nil, message.Loc{}, errors.WrapInvalid(errors.ErrFrameTooLarge,
			"protocol", "ReadFrame", fmt.Sprintf("%d bytes", payload))
	}

	buf := make([]byte, payload)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, message.Loc{}, errors.WrapTransient(err,
			"protocol", "ReadFrame", "payload read")
	}
	return DecodeFrame(buf[0], buf[1:])
}

// DecodeFrame reconstructs a message from its type tag and msgpack
// body. Restored commands keep their correlation id and return path so
// results still find their way back across processes.
func DecodeFrame(tag byte, encoded []byte) (message.Message, message.Loc, error) {
	var body wireBody
	if err := msgpack.Unmarshal(encoded, &body); err != nil {
		return nil, message.Loc{}, errors.WrapInvalid(errors.ErrMalformedFrame,
			"protocol", "DecodeFrame", "msgpack decode: "+err.Error())
	}

	opts := []message.Option{
		message.WithID(body.ID),
		message.WithSource(body.Source),
		message.WithProperties(message.Properties(body.Properties)),
	}

	var msg message.Message
	switch message.Type(tag) {
	case message.TypeCommand:
		msg = message.RestoreCmd(body.Name, body.CmdID, body.ReturnPath, opts...)
	case message.TypeCommandResult:
		msg = message.RestoreResult(body.Name, body.CmdID,
			message.Status(body.Status), body.Detail, body.IsFinal,
			body.ReturnPath, opts...)
	case message.TypeData:
		msg = message.NewData(body.Name, body.Buf, opts...)
	case message.TypeAudioFrame:
		f := message.NewAudioFrame(body.Name, body.Buf, opts...)
		f.SampleRate = body.SampleRate
		f.Channels = body.Channels
		f.BytesPerSample = body.BytesPerSample
		f.SamplesPerChannel = body.SamplesPerChannel
		f.EOF = body.EOF
		msg = f
	case message.TypeVideoFrame:
		f := message.NewVideoFrame(body.Name, body.Buf, opts...)
		f.PixelFmt = body.PixelFmt
		f.Width = body.Width
		f.Height = body.Height
		f.TimestampUs = body.TimestampUs
		f.EOF = body.EOF
		msg = f
	default:
		return nil, message.Loc{}, errors.WrapInvalid(errors.ErrMalformedFrame,
			"protocol", "DecodeFrame", fmt.Sprintf("unknown type tag %d", tag))
	}

	if err := msg.Validate(); err != nil {
		return nil, message.Loc{}, err
	}
	return msg, body.Dest, nil
}
