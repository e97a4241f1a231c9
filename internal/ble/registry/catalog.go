package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// catalogFile is the on-disk catalog format.
type catalogFile struct {
	Commands []catalogCommand `yaml:"commands"`
	Events   []catalogEvent   `yaml:"events"`
}

type catalogCommand struct {
	Name       string         `yaml:"name"`
	Class      uint8          `yaml:"class"`
	ID         uint8          `yaml:"id"`
	Params     []catalogField `yaml:"params"`
	Returns    []catalogField `yaml:"returns"`
	NoResponse bool           `yaml:"no_response"`
}

type catalogEvent struct {
	Name   string         `yaml:"name"`
	Class  uint8          `yaml:"class"`
	ID     uint8          `yaml:"id"`
	Params []catalogField `yaml:"params"`
}

type catalogField struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Length string `yaml:"length,omitempty"`
}

// Builtin returns the registry parsed from the embedded catalog.
var Builtin = sync.OnceValue(func() *Registry {
	r, err := Load(bytes.NewReader(builtinCatalog))
	if err != nil {
		panic(fmt.Sprintf("registry: embedded catalog: %v", err))
	}
	return r
})

// Load parses a YAML catalog.
func Load(r io.Reader) (*Registry, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("registry: parsing catalog: %w", err)
	}

	var descs []Descriptor
	for _, c := range cf.Commands {
		params, err := convertFields(c.Name, c.Params)
		if err != nil {
			return nil, err
		}
		descs = append(descs, Descriptor{
			Name:       c.Name,
			Kind:       KindCommand,
			Class:      c.Class,
			ID:         c.ID,
			Fields:     params,
			NoResponse: c.NoResponse,
		})
		if c.NoResponse {
			if len(c.Returns) > 0 {
				return nil, fmt.Errorf("%w: %s: no_response command declares returns", ErrInvalidDescriptor, c.Name)
			}
			continue
		}
		returns, err := convertFields(c.Name, c.Returns)
		if err != nil {
			return nil, err
		}
		descs = append(descs, Descriptor{
			Name:   c.Name,
			Kind:   KindResponse,
			Class:  c.Class,
			ID:     c.ID,
			Fields: returns,
		})
	}
	for _, e := range cf.Events {
		params, err := convertFields(e.Name, e.Params)
		if err != nil {
			return nil, err
		}
		descs = append(descs, Descriptor{
			Name:   e.Name,
			Kind:   KindEvent,
			Class:  e.Class,
			ID:     e.ID,
			Fields: params,
		})
	}
	return New(descs...)
}

// LoadFile parses a catalog file and layers it over the built-in table.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: opening catalog: %w", err)
	}
	defer f.Close()

	extra, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Builtin().Merge(extra)
}

func convertFields(msg string, in []catalogField) ([]FieldSpec, error) {
	out := make([]FieldSpec, 0, len(in))
	for _, f := range in {
		t, err := ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", msg, f.Name, err)
		}
		out = append(out, FieldSpec{Name: f.Name, Type: t, Length: f.Length})
	}
	return out, nil
}
