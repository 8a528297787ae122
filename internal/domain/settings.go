package domain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eleven-am/crosslink/internal/xjson"
)

// Settings is an immutable, flat snapshot of dotted keys to raw values.
// Values are kept as supplied (string, bool, numbers, []string or nil) and
// interpreted by the typed setting definitions.
type Settings struct {
	values map[string]interface{}
}

var EmptySettings = &Settings{values: map[string]interface{}{}}

func (s *Settings) Get(key string) (interface{}, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

func (s *Settings) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Settings) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Settings) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// AsMap returns a copy of the raw values.
func (s *Settings) AsMap() map[string]interface{} {
	out := make(map[string]interface{}, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// KeysWithPrefix returns the sorted keys starting with prefix.
func (s *Settings) KeysWithPrefix(prefix string) []string {
	var keys []string
	for _, k := range s.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *Settings) ToBuilder() *SettingsBuilder {
	return &SettingsBuilder{values: s.AsMap()}
}

type SettingsBuilder struct {
	values map[string]interface{}
}

func NewSettingsBuilder() *SettingsBuilder {
	return &SettingsBuilder{values: make(map[string]interface{})}
}

func (b *SettingsBuilder) Put(key string, value interface{}) *SettingsBuilder {
	b.values[key] = value
	return b
}

func (b *SettingsBuilder) PutList(key string, values ...string) *SettingsBuilder {
	list := make([]string, len(values))
	copy(list, values)
	b.values[key] = list
	return b
}

// PutNull records an explicitly null value, which reads back as the default.
func (b *SettingsBuilder) PutNull(key string) *SettingsBuilder {
	b.values[key] = nil
	return b
}

func (b *SettingsBuilder) Remove(key string) *SettingsBuilder {
	delete(b.values, key)
	return b
}

func (b *SettingsBuilder) Build() *Settings {
	values := make(map[string]interface{}, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return &Settings{values: values}
}

// SettingsFromMap flattens a nested document into dotted keys, so that
// {"cluster": {"remote": {"a": {"seeds": [...]}}}} and
// {"cluster.remote.a.seeds": [...]} produce the same snapshot.
func SettingsFromMap(doc map[string]interface{}) (*Settings, error) {
	b := NewSettingsBuilder()
	if err := flatten("", doc, b); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func flatten(prefix string, node interface{}, b *SettingsBuilder) error {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if err := flatten(joinKey(prefix, k), child, b); err != nil {
				return err
			}
		}
	case map[interface{}]interface{}:
		for k, child := range v {
			ks, ok := k.(string)
			if !ok {
				return NewValidationError(prefix, k, "non-string key")
			}
			if err := flatten(joinKey(prefix, ks), child, b); err != nil {
				return err
			}
		}
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			switch item.(type) {
			case map[string]interface{}, map[interface{}]interface{}, []interface{}:
				return NewValidationError(prefix, item, "lists may only contain scalar values")
			}
			list = append(list, fmt.Sprint(item))
		}
		b.PutList(prefix, list...)
	default:
		if prefix == "" {
			return NewValidationError("", v, "settings document must be an object")
		}
		b.Put(prefix, v)
	}
	return nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// LoadSettingsFile reads a YAML or JSON settings document.
func LoadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error{
			Type:    ErrorTypeInternal,
			Message: "failed to read settings file",
			Details: map[string]interface{}{"file": path},
			Cause:   err,
		}
	}

	doc := map[string]interface{}{}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, NewConfigurationError(path, fmt.Sprintf("failed to parse YAML settings: %v", err), "check the YAML syntax")
		}
	case strings.HasSuffix(path, ".json"):
		if err := xjson.Unmarshal(data, &doc); err != nil {
			return nil, NewConfigurationError(path, fmt.Sprintf("failed to parse JSON settings: %v", err), "check the JSON syntax")
		}
	default:
		return nil, NewConfigurationError(path, "unsupported settings file format", "use .yaml, .yml or .json")
	}

	return SettingsFromMap(doc)
}
