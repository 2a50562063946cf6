// ABOUTME: TOML capability pack manifest types and parsing.
// ABOUTME: A pack is a static bundle of capability declarations, loaded once at boot.

package packs

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/2389/agentfabric/internal/capindex"
)

// Manifest is one parsed *.toml capability pack.
type Manifest struct {
	PackID       string
	Version      string
	Capabilities []capindex.Capability
}

// tomlManifest is the TOML-decodable shape: InputSchema/OutputSchema are
// intentionally absent from the file format — packs declare name,
// description, and metadata only, since schemas are a runtime-negotiated
// concern no static pack author writes by hand.
type tomlManifest struct {
	PackID       string                  `toml:"pack_id"`
	Version      string                  `toml:"version"`
	Capabilities []capabilityTOML `toml:"capabilities"`
}

type capabilityTOML struct {
	Name        string         `toml:"name"`
	Description string         `toml:"description"`
	Metadata    map[string]any `toml:"metadata"`
}

// LoadFile parses one pack manifest from a TOML file.
func LoadFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("packs: reading %s: %w", path, err)
	}
	return Load(data, path)
}

// Load parses manifest bytes. source is used only for error messages.
func Load(data []byte, source string) (Manifest, error) {
	var raw tomlManifest
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Manifest{}, fmt.Errorf("packs: parsing %s: %w", source, err)
	}
	if raw.PackID == "" {
		return Manifest{}, fmt.Errorf("packs: %s: pack_id is required", source)
	}

	m := Manifest{PackID: raw.PackID, Version: raw.Version}
	for _, c := range raw.Capabilities {
		if c.Name == "" {
			return Manifest{}, fmt.Errorf("packs: %s: capability missing name", source)
		}
		m.Capabilities = append(m.Capabilities, capindex.Capability{
			Name:        c.Name,
			Description: c.Description,
			Metadata:    c.Metadata,
		})
	}
	return m, nil
}
