// Package statefile reads and writes store state as YAML or JSON files.
//
// Both formats decode to the same values: integers become int, other
// numbers float64, mappings vetamin.State at the top level and
// map[string]any below it.
package statefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pankerit/vetamin"
)

// Format is a state file encoding.
type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// ErrUnknownFormat is returned for file names without a .yaml, .yml or
// .json extension.
var ErrUnknownFormat = errors.New("statefile: unknown format")

// FormatOf returns the format implied by the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Load reads the state stored in path. A missing file is reported with an
// error wrapping os.ErrNotExist.
func Load(path string) (vetamin.State, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("state file %q: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	state, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return state, nil
}

// Decode reads one state document from r. An empty document is an empty
// State; anything but a mapping at the top level is an error.
func Decode(r io.Reader, format Format) (vetamin.State, error) {
	var raw any
	switch format {
	case YAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
	case JSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("json unmarshal: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if raw == nil {
		return vetamin.State{}, nil
	}
	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("statefile: top level is %T, want a mapping", raw)
	}
	return vetamin.State(m), nil
}

// normalize converts JSON numbers and YAML mappings with non-string keys.
func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = normalize(e)
		}
		return v
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range v {
			v[i] = normalize(e)
		}
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		f, _ := v.Float64()
		return f
	}
	return v
}

// Save writes state to path in the format implied by its extension.
func Save(path string, state vetamin.State) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case YAML:
		data, err = yaml.Marshal(map[string]any(state.Clone()))
		if err != nil {
			return fmt.Errorf("yaml marshal: %w", err)
		}
	case JSON:
		data, err = json.MarshalIndent(state.Clone(), "", "  ")
		if err != nil {
			return fmt.Errorf("json marshal: %w", err)
		}
		data = append(data, '\n')
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
