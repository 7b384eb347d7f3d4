package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Top-level YAML config key names used for shallow merge.
const (
	keyAPI     = "api"
	keyBatch   = "batch"
	keyOutput  = "output"
	keyLogging = "logging"
	keyCache   = "cache"
)

// knownTopLevelKeys lists the YAML keys that correspond to exported Config fields.
// Keys not in this list are silently ignored during merge.
//
//nolint:gochecknoglobals // Compile-time constant lookup table.
var knownTopLevelKeys = map[string]bool{
	keyAPI:     true,
	keyBatch:   true,
	keyOutput:  true,
	keyLogging: true,
	keyCache:   true,
}

// ShallowMergeYAML loads a YAML file and merges its sections onto the
// target Config. Fields set in an overlay section override the target's;
// fields and sections the overlay leaves out keep their current values.
func ShallowMergeYAML(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in ShallowMergeYAML")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading overlay file %s: %w", overlayPath, err)
	}

	var overlay map[string]interface{}
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing overlay YAML from %s: %w", overlayPath, err)
	}

	// Empty or comment-only file: nothing to merge.
	if len(overlay) == 0 {
		return nil
	}

	for key, value := range overlay {
		if !knownTopLevelKeys[key] {
			continue
		}

		// Re-marshal the single section so it can be unmarshalled onto the
		// strongly-typed target field.
		sectionBytes, marshalErr := yaml.Marshal(value)
		if marshalErr != nil {
			return fmt.Errorf("re-marshalling overlay section %q: %w", key, marshalErr)
		}

		if err = unmarshalSection(target, key, sectionBytes); err != nil {
			return fmt.Errorf("applying overlay section %q: %w", key, err)
		}
	}

	return nil
}

// unmarshalSection decodes one overlay section onto a copy of the
// target's current section, so only the fields the overlay sets change.
func unmarshalSection(target *Config, key string, data []byte) error {
	switch key {
	case keyAPI:
		v := target.API
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.API = v
	case keyBatch:
		v := target.Batch
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Batch = v
	case keyOutput:
		v := target.Output
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Output = v
	case keyLogging:
		v := target.Logging
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Logging = v
	case keyCache:
		v := target.Cache
		if err := yaml.Unmarshal(data, &v); err != nil {
			return err
		}
		target.Cache = v
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// yamlFields returns the yaml key of every tagged field of the struct v.
func yamlFields(v interface{}) []string {
	t := reflect.TypeOf(v)
	fields := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("yaml")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		fields = append(fields, name)
	}
	return fields
}
