package archive

import (
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestVersion is the current manifest schema.
const ManifestVersion = "1"

// Manifest describes one archived object. It is stored next to the object as
// <key>.manifest.yaml and signed when a signing key is configured.
type Manifest struct {
	Version          string    `yaml:"version"`
	Key              string    `yaml:"key"`
	CreatedAt        time.Time `yaml:"created_at"`
	Size             int       `yaml:"size"`
	SHA256           string    `yaml:"sha256"`
	Encryption       string    `yaml:"encryption,omitempty"`
	SigningPublicKey string    `yaml:"signing_public_key,omitempty"`
	Signature        string    `yaml:"signature,omitempty"`
}

// SigningBytes marshals the manifest without its signature.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// ManifestKey names the manifest object for key.
func ManifestKey(key string) string {
	return key + ".manifest.yaml"
}
