package config

import (
	"bytes"

	"github.com/BurntSushi/toml"
	yamlv3 "gopkg.in/yaml.v3"
)

// TOMLParser implements koanf.Parser on top of BurntSushi/toml.
type TOMLParser struct{}

// TOML returns a koanf parser for TOML config files.
func TOML() *TOMLParser { return &TOMLParser{} }

func (p *TOMLParser) Unmarshal(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *TOMLParser) Marshal(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalTOML goes through YAML so TOML keys follow the yaml tags.
func marshalTOML(c *Config) ([]byte, error) {
	raw, err := yamlv3.Marshal(c)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := yamlv3.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return TOML().Marshal(m)
}
