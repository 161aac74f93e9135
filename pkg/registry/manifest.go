// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// Manifest declares an agent's identity, the topics it listens on and its capabilities.
type Manifest struct {
	AgentID      string   `json:"agent_id" yaml:"agent_id"`
	Version      string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Topics       []string `json:"topics" yaml:"topics"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// capability is either a plain name or an object with a name field.
type capability string

func (c *capability) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*c = capability(name)
		return nil
	}

	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("capability is neither a string nor an object: %w", err)
	}
	*c = capability(obj.Name)
	return nil
}

func (c *capability) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*c = capability(value.Value)
		return nil

	case yaml.MappingNode:
		var obj struct {
			Name string `yaml:"name"`
		}
		if err := value.Decode(&obj); err != nil {
			return err
		}
		*c = capability(obj.Name)
		return nil

	default:
		return fmt.Errorf("capability in line %d is neither a string nor a mapping", value.Line)
	}
}

// rawManifest accepts the legacy name field and capability objects.
type rawManifest struct {
	AgentID      string       `json:"agent_id" yaml:"agent_id"`
	Name         string       `json:"name" yaml:"name"`
	Version      string       `json:"version" yaml:"version"`
	Description  string       `json:"description" yaml:"description"`
	Topics       []string     `json:"topics" yaml:"topics"`
	Capabilities []capability `json:"capabilities" yaml:"capabilities"`
}

func (raw rawManifest) manifest() Manifest {
	m := Manifest{
		AgentID:     strings.TrimSpace(raw.AgentID),
		Version:     raw.Version,
		Description: raw.Description,
		Topics:      normalize(raw.Topics),
	}
	if m.AgentID == "" {
		m.AgentID = strings.TrimSpace(raw.Name)
	}

	caps := make([]string, len(raw.Capabilities))
	for i, c := range raw.Capabilities {
		caps[i] = string(c)
	}
	m.Capabilities = normalize(caps)

	return m
}

// normalize trims names and removes empty and repeated ones, keeping their order.
func normalize(names []string) []string {
	known := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := known[key(name)]; ok {
			continue
		}
		known[key(name)] = struct{}{}
		out = append(out, name)
	}
	return out
}

// key for case insensitive matching.
func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Validate checks the Manifest's agent id.
func (m Manifest) Validate() error {
	switch {
	case m.AgentID == "":
		return fmt.Errorf("manifest has no agent_id")
	case m.AgentID == envelope.Broadcast || !envelope.ValidAgentID(m.AgentID):
		return fmt.Errorf("manifest has an invalid agent_id %q", m.AgentID)
	default:
		return nil
	}
}

// Keys returns all lowercased capability and topic names of this Manifest.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Capabilities)+len(m.Topics))
	for _, c := range m.Capabilities {
		keys = append(keys, key(c))
	}
	for _, t := range m.Topics {
		keys = append(keys, key(t))
	}
	return keys
}

// PrimaryTopic is the first declared topic, or the default topic.
func (m Manifest) PrimaryTopic() string {
	if len(m.Topics) > 0 {
		return m.Topics[0]
	}
	return envelope.DefaultTopic
}

// ParseJSON reads a JSON Manifest.
func ParseJSON(data []byte) (m Manifest, err error) {
	var raw rawManifest
	if err = json.Unmarshal(data, &raw); err != nil {
		return
	}

	m = raw.manifest()
	err = m.Validate()
	return
}

// ParseYAML reads a YAML Manifest.
func ParseYAML(data []byte) (m Manifest, err error) {
	var raw rawManifest
	if err = yaml.Unmarshal(data, &raw); err != nil {
		return
	}

	m = raw.manifest()
	err = m.Validate()
	return
}

// ManifestNames are the file names recognized as Manifests.
var ManifestNames = []string{"agent.json", "agent.yaml", "agent.yml"}

// IsManifestFile checks if a path names a Manifest.
func IsManifestFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range ManifestNames {
		if base == name {
			return true
		}
	}
	return false
}

// LoadManifest reads a Manifest file, choosing the format by its extension.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}

	switch filepath.Ext(path) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Manifest{}, fmt.Errorf("unknown manifest format of %s", path)
	}
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
