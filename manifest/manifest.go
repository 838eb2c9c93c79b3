package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360/flowmesh/errors"
)

// ManifestFileName is the file scanned for inside each addon directory.
const ManifestFileName = "manifest.json"

// PropertyFileName is the optional instance-defaults file next to it.
const PropertyFileName = "property.json"

// Manifest declares an addon's identity and message api. Only the
// fields the runtime consumes are modeled; tooling-only fields pass
// through Extra untouched.
type Manifest struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version string `json:"version"`
	API     API    `json:"api"`

	// Extra preserves unknown top-level fields for round-tripping.
	Extra map[string]json.RawMessage `json:"-"`
}

// API declares the messages an addon consumes and produces, each with
// an optional property schema.
type API struct {
	CmdIn         []MessageDecl `json:"cmd_in,omitempty"`
	CmdOut        []MessageDecl `json:"cmd_out,omitempty"`
	DataIn        []MessageDecl `json:"data_in,omitempty"`
	DataOut       []MessageDecl `json:"data_out,omitempty"`
	AudioFrameIn  []MessageDecl `json:"audio_frame_in,omitempty"`
	AudioFrameOut []MessageDecl `json:"audio_frame_out,omitempty"`
	VideoFrameIn  []MessageDecl `json:"video_frame_in,omitempty"`
	VideoFrameOut []MessageDecl `json:"video_frame_out,omitempty"`
}

// MessageDecl names one message and its expected property schema.
type MessageDecl struct {
	Name     string         `json:"name"`
	Property PropertySchema `json:"property,omitempty"`
}

// Validate checks the manifest's structural integrity.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Manifest", "Validate", "addon name validation")
	}
	if m.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Manifest", "Validate", "addon type validation")
	}
	return nil
}

// CmdInDecl returns the declared cmd_in entry for name, if any.
func (m *Manifest) CmdInDecl(name string) (MessageDecl, bool) {
	return findDecl(m.API.CmdIn, name)
}

// DataInDecl returns the declared data_in entry for name, if any.
func (m *Manifest) DataInDecl(name string) (MessageDecl, bool) {
	return findDecl(m.API.DataIn, name)
}

// AudioFrameInDecl returns the declared audio_frame_in entry for name.
func (m *Manifest) AudioFrameInDecl(name string) (MessageDecl, bool) {
	return findDecl(m.API.AudioFrameIn, name)
}

// VideoFrameInDecl returns the declared video_frame_in entry for name.
func (m *Manifest) VideoFrameInDecl(name string) (MessageDecl, bool) {
	return findDecl(m.API.VideoFrameIn, name)
}

func findDecl(decls []MessageDecl, name string) (MessageDecl, bool) {
	for _, d := range decls {
		if d.Name == name {
			return d, true
		}
	}
	return MessageDecl{}, false
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Manifest", "Load", "manifest read")
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "Manifest", "Load",
			fmt.Sprintf("manifest parse (%s)", path))
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Entry is one discovered addon: its manifest, base directory, and
// default instance properties (nil when no property file exists).
type Entry struct {
	Manifest *Manifest
	BaseDir  string
	Property map[string]any
}

// Scan walks a base directory in the documented layout and returns an
// entry per addon subdirectory containing a manifest. Subdirectories
// without a manifest are skipped silently; a malformed manifest fails
// the scan.
func Scan(baseDir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Manifest", "Scan", "base directory read")
	}

	var entries []Entry
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		addonDir := filepath.Join(baseDir, de.Name())
		manifestPath := filepath.Join(addonDir, ManifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		m, err := Load(manifestPath)
		if err != nil {
			return nil, errors.Wrap(err, "Manifest", "Scan",
				fmt.Sprintf("load manifest for %s", de.Name()))
		}

		entry := Entry{Manifest: m, BaseDir: addonDir}

		propPath := filepath.Join(addonDir, PropertyFileName)
		if _, err := os.Stat(propPath); err == nil {
			props, err := LoadProperties(propPath)
			if err != nil {
				return nil, errors.Wrap(err, "Manifest", "Scan",
					fmt.Sprintf("load properties for %s", de.Name()))
			}
			entry.Property = props
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
