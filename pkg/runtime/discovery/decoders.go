package discovery

import (
	"encoding/json"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Decoder turns file contents into a mountable value.
type Decoder func(data []byte) (any, error)

// JSON decodes JSON documents into maps, slices and scalars.
func JSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// TOML decodes a TOML document into a map.
func TOML(data []byte) (any, error) {
	v := make(map[string]any)
	if err := toml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// YAML decodes a YAML document. Mappings become map[string]any.
func YAML(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DefaultDecoders returns the decoders registered by New, keyed by extension.
func DefaultDecoders() map[string]Decoder {
	return map[string]Decoder{
		".json": JSON,
		".toml": TOML,
		".yaml": YAML,
		".yml":  YAML,
	}
}
