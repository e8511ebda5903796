package status

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

var ErrUnknownCodec = errors.New("unknown status codec")

// Codec turns a Message into one self-contained text frame and back.
type Codec interface {
	Name() string
	Marshal(msg Message) ([]byte, error)
	Unmarshal(data []byte, msg *Message) error
}

// JSON is the default wire encoding.
var JSON Codec = jsonCodec{}

var codecs = map[string]Codec{
	"json": JSON,
	"yaml": yamlCodec{},
	"toml": tomlCodec{},
}

// CodecByName resolves a codec from configuration. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	if name == "" {
		return JSON, nil
	}

	codec, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}

	return codec, nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg Message) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status message: %w", err)
	}

	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, msg *Message) error {
	if err := sonic.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("failed to unmarshal status message: %w", err)
	}

	return nil
}

type yamlCodec struct{}

func (yamlCodec) Name() string { return "yaml" }

func (yamlCodec) Marshal(msg Message) ([]byte, error) {
	data, err := yaml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status message: %w", err)
	}

	return data, nil
}

func (yamlCodec) Unmarshal(data []byte, msg *Message) error {
	if err := yaml.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("failed to unmarshal status message: %w", err)
	}

	return nil
}

type tomlCodec struct{}

func (tomlCodec) Name() string { return "toml" }

func (tomlCodec) Marshal(msg Message) ([]byte, error) {
	data, err := toml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status message: %w", err)
	}

	return data, nil
}

func (tomlCodec) Unmarshal(data []byte, msg *Message) error {
	if err := toml.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("failed to unmarshal status message: %w", err)
	}

	return nil
}
