package message

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/c360/flowmesh/errors"
)

// Type identifies the concrete message kind. The numeric values double
// as the wire-protocol type tag and must stay stable.
type Type uint8

const (
	// TypeInvalid is the zero value; it never appears on the wire.
	TypeInvalid Type = iota
	// TypeCommand is a request expecting one or more correlated results.
	TypeCommand
	// TypeCommandResult is the correlated response to a Command.
	TypeCommandResult
	// TypeData is a fire-and-forget payload message.
	TypeData
	// TypeAudioFrame is a fire-and-forget audio buffer message.
	TypeAudioFrame
	// TypeVideoFrame is a fire-and-forget video buffer message.
	TypeVideoFrame
)

// String returns the message type name used in logs and connection
// declarations.
func (t Type) String() string {
	switch t {
	case TypeCommand:
		return "cmd"
	case TypeCommandResult:
		return "cmd_result"
	case TypeData:
		return "data"
	case TypeAudioFrame:
		return "audio_frame"
	case TypeVideoFrame:
		return "video_frame"
	default:
		return "invalid"
	}
}

// ParseType maps a connection-declaration string back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "cmd":
		return TypeCommand, nil
	case "cmd_result":
		return TypeCommandResult, nil
	case "data":
		return TypeData, nil
	case "audio_frame":
		return TypeAudioFrame, nil
	case "video_frame":
		return TypeVideoFrame, nil
	default:
		return TypeInvalid, errors.WrapInvalid(errors.ErrParsingFailed,
			"message", "ParseType", "unknown message type "+s)
	}
}

// Message is the envelope interface every message kind implements.
type Message interface {
	// ID returns the unique identifier of this message instance.
	ID() string

	// Type returns the concrete message kind.
	Type() Type

	// Name returns the routing name (e.g. "ping", "pcm_frame").
	Name() string

	// Source returns the Loc this message was sent from.
	Source() Loc

	// SetSource stamps the sending Loc. The engine calls this once at
	// the send boundary.
	SetSource(Loc)

	// Properties returns the mutable property bag. Callers on the
	// owning runloop may read and write it freely; it is never shared
	// across runloops (Clone on fan-out guarantees that).
	Properties() Properties

	// Clone returns an independent deep copy sharing no mutable state
	// with the receiver. IDs and correlation state are preserved.
	Clone() Message

	// Validate checks structural integrity of the envelope.
	Validate() error
}

// Properties is the schemaless property bag attached to every message.
type Properties map[string]any

// Clone returns a copy of the bag. Values are copied shallowly except
// nested Properties and []byte, which are copied deeply; messages
// crossing runloops must not share mutable containers.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		switch tv := v.(type) {
		case Properties:
			out[k] = tv.Clone()
		case map[string]any:
			out[k] = Properties(tv).Clone()
		case []byte:
			buf := make([]byte, len(tv))
			copy(buf, tv)
			out[k] = buf
		default:
			out[k] = v
		}
	}
	return out
}

// GetString extracts a string property with a default fallback.
func (p Properties) GetString(key, defaultValue string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultValue
}

// GetInt extracts an integer property with a default fallback. JSON
// and msgpack decoding produce float64/int64, so both are accepted.
func (p Properties) GetInt(key string, defaultValue int) int {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int8:
			return int(n)
		case int16:
			return int(n)
		case int32:
			return int(n)
		case int64:
			return int(n)
		case uint64:
			if n <= math.MaxInt64 {
				return int(n)
			}
		case float64:
			if !math.IsNaN(n) && !math.IsInf(n, 0) {
				return int(n)
			}
		}
	}
	return defaultValue
}

// GetBool extracts a boolean property with a default fallback.
func (p Properties) GetBool(key string, defaultValue bool) bool {
	if v, ok := p[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}

// GetFloat64 extracts a float property with a default fallback.
func (p Properties) GetFloat64(key string, defaultValue float64) float64 {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case float64:
			if !math.IsNaN(n) && !math.IsInf(n, 0) {
				return n
			}
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return defaultValue
}

// base carries the fields shared by every message kind.
type base struct {
	id        string
	name      string
	source    Loc
	props     Properties
	createdAt time.Time
}

func newBase(name string) base {
	return base{
		id:        uuid.New().String(),
		name:      name,
		props:     make(Properties),
		createdAt: time.Now(),
	}
}

func (b *base) ID() string             { return b.id }
func (b *base) Name() string           { return b.name }
func (b *base) Source() Loc            { return b.source }
func (b *base) SetSource(l Loc)        { b.source = l }
func (b *base) Properties() Properties { return b.props }

// CreatedAt returns the message creation timestamp.
func (b *base) CreatedAt() time.Time { return b.createdAt }

func (b *base) cloneBase() base {
	out := *b
	out.props = b.props.Clone()
	return out
}

func (b *base) validateBase(msgType Type) error {
	if b.name == "" && msgType == TypeCommand {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"Message", "Validate", "command name validation")
	}
	if b.id == "" {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"Message", "Validate", "message id validation")
	}
	return nil
}

// Option is a functional option applied at message construction.
type Option func(*base)

// WithProperty sets a single property on the new message.
func WithProperty(key string, value any) Option {
	return func(b *base) { b.props[key] = value }
}

// WithProperties merges a whole bag into the new message.
func WithProperties(props Properties) Option {
	return func(b *base) {
		for k, v := range props {
			b.props[k] = v
		}
	}
}

// WithSource stamps the source Loc at construction time instead of at
// the send boundary. Used by transports reconstructing remote messages.
func WithSource(loc Loc) Option {
	return func(b *base) { b.source = loc }
}

// WithID overrides the generated message id. Used by transports so a
// message keeps its identity across the wire.
func WithID(id string) Option {
	return func(b *base) { b.id = id }
}
