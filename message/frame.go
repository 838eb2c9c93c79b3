package message

// Data is a fire-and-forget payload message. Multiple destinations are
// fanned out in declaration order; no result is expected.
type Data struct {
	base
	buf []byte
}

// NewData creates a Data message. The buffer is owned by the message
// after the call.
func NewData(name string, buf []byte, opts ...Option) *Data {
	d := &Data{base: newBase(name), buf: buf}
	for _, opt := range opts {
		opt(&d.base)
	}
	return d
}

// Type implements Message.
func (d *Data) Type() Type { return TypeData }

// Buf returns the payload buffer.
func (d *Data) Buf() []byte { return d.buf }

// Clone implements Message.
func (d *Data) Clone() Message {
	buf := make([]byte, len(d.buf))
	copy(buf, d.buf)
	return &Data{base: d.cloneBase(), buf: buf}
}

// Validate implements Message.
func (d *Data) Validate() error { return d.validateBase(TypeData) }

// AudioFrame carries one buffer of PCM audio through the graph.
type AudioFrame struct {
	base
	buf []byte

	// SampleRate is in Hz (e.g. 16000, 48000).
	SampleRate int
	// Channels is the interleaved channel count.
	Channels int
	// BytesPerSample is the sample width (2 for s16le).
	BytesPerSample int
	// SamplesPerChannel is the frame length per channel.
	SamplesPerChannel int
	// EOF marks the last frame of a logical stream segment. Downstream
	// extensions use it to flush decoder/synthesis state.
	EOF bool
}

// NewAudioFrame creates an AudioFrame message.
func NewAudioFrame(name string, buf []byte, opts ...Option) *AudioFrame {
	f := &AudioFrame{base: newBase(name), buf: buf}
	for _, opt := range opts {
		opt(&f.base)
	}
	return f
}

// Type implements Message.
func (f *AudioFrame) Type() Type { return TypeAudioFrame }

// Buf returns the sample buffer.
func (f *AudioFrame) Buf() []byte { return f.buf }

// Clone implements Message.
func (f *AudioFrame) Clone() Message {
	buf := make([]byte, len(f.buf))
	copy(buf, f.buf)
	out := *f
	out.base = f.cloneBase()
	out.buf = buf
	return &out
}

// Validate implements Message.
func (f *AudioFrame) Validate() error { return f.validateBase(TypeAudioFrame) }

// VideoFrame carries one video frame through the graph.
type VideoFrame struct {
	base
	buf []byte

	// PixelFmt names the pixel layout (e.g. "i420", "rgba").
	PixelFmt string
	// Width and Height are in pixels.
	Width  int
	Height int
	// TimestampUs is the presentation timestamp in microseconds.
	TimestampUs int64
	// EOF marks the last frame of a logical stream segment.
	EOF bool
}

// NewVideoFrame creates a VideoFrame message.
func NewVideoFrame(name string, buf []byte, opts ...Option) *VideoFrame {
	f := &VideoFrame{base: newBase(name), buf: buf}
	for _, opt := range opts {
		opt(&f.base)
	}
	return f
}

// Type implements Message.
func (f *VideoFrame) Type() Type { return TypeVideoFrame }

// Buf returns the frame buffer.
func (f *VideoFrame) Buf() []byte { return f.buf }

// Clone implements Message.
func (f *VideoFrame) Clone() Message {
	buf := make([]byte, len(f.buf))
	copy(buf, f.buf)
	out := *f
	out.base = f.cloneBase()
	out.buf = buf
	return &out
}

// Validate implements Message.
func (f *VideoFrame) Validate() error { return f.validateBase(TypeVideoFrame) }
