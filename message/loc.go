package message

import "fmt"

// Loc is the address triple identifying any routable endpoint: an app
// (process), a graph instance inside it, and an extension inside that.
// Loc is an immutable value type used both as message source and as
// connection destination. Zero-value fields act as wildcards at the
// layer that interprets them: an empty ExtensionName addresses the app
// itself (built-in commands), an empty AppURI means "this process".
type Loc struct {
	AppURI        string `json:"app,omitempty" msgpack:"app,omitempty"`
	GraphID       string `json:"graph,omitempty" msgpack:"graph,omitempty"`
	ExtensionName string `json:"extension,omitempty" msgpack:"extension,omitempty"`
}

// String renders the Loc for logs and errors.
func (l Loc) String() string {
	return fmt.Sprintf("%s#%s/%s", l.AppURI, l.GraphID, l.ExtensionName)
}

// IsEmpty reports whether every field is unset.
func (l Loc) IsEmpty() bool {
	return l.AppURI == "" && l.GraphID == "" && l.ExtensionName == ""
}

// IsLocal reports whether the Loc addresses the given app URI. An
// empty AppURI always resolves to the local process.
func (l Loc) IsLocal(appURI string) bool {
	return l.AppURI == "" || l.AppURI == appURI
}
