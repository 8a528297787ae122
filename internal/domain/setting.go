package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Property int

const (
	PropertyNodeScope Property = 1 << iota
	PropertyDynamic
	// PropertyFiltered settings can be written but are never returned by a
	// read-back surface.
	PropertyFiltered
)

func (p Property) String() string {
	var parts []string
	if p&PropertyNodeScope != 0 {
		parts = append(parts, "node_scope")
	}
	if p&PropertyDynamic != 0 {
		parts = append(parts, "dynamic")
	}
	if p&PropertyFiltered != 0 {
		parts = append(parts, "filtered")
	}
	return strings.Join(parts, "|")
}

type ParseFunc[T any] func(key string, raw interface{}) (T, error)

// Setting is a typed definition of a single concrete key.
type Setting[T any] struct {
	Key        string
	Default    T
	Parse      ParseFunc[T]
	Validate   func(key string, value T) error
	Properties Property
	// Fallback is consulted when Key is absent or null.
	Fallback *Setting[T]
}

func (s Setting[T]) Get(settings *Settings) (T, error) {
	raw, ok := settings.Get(s.Key)
	if !ok || raw == nil {
		if s.Fallback != nil {
			return s.Fallback.Get(settings)
		}
		return s.Default, nil
	}

	value, err := s.Parse(s.Key, raw)
	if err != nil {
		var zero T
		return zero, err
	}
	if s.Validate != nil {
		if err := s.Validate(s.Key, value); err != nil {
			var zero T
			return zero, err
		}
	}
	return value, nil
}

// MustGet returns the default when the stored value does not parse. Only
// used on snapshots that already passed validation.
func (s Setting[T]) MustGet(settings *Settings) T {
	v, err := s.Get(settings)
	if err != nil {
		return s.Default
	}
	return v
}

func (s Setting[T]) Exists(settings *Settings) bool {
	return settings.Has(s.Key)
}

func (s Setting[T]) HasProperty(p Property) bool {
	return s.Properties&p != 0
}

func (s Setting[T]) check(settings *Settings) error {
	_, err := s.Get(settings)
	return err
}

// AffixSetting is a family of settings sharing a prefix and suffix with a
// namespace in between: <prefix><namespace>.<suffix>.
type AffixSetting[T any] struct {
	Prefix     string
	Suffix     string
	Default    T
	Parse      ParseFunc[T]
	Validate   func(key string, value T) error
	Properties Property
	Fallback   *Setting[T]
}

func (a AffixSetting[T]) Concrete(namespace string) Setting[T] {
	return Setting[T]{
		Key:        a.Prefix + namespace + "." + a.Suffix,
		Default:    a.Default,
		Parse:      a.Parse,
		Validate:   a.Validate,
		Properties: a.Properties,
		Fallback:   a.Fallback,
	}
}

// Namespace extracts the namespace from key, false when key does not
// belong to this family.
func (a AffixSetting[T]) Namespace(key string) (string, bool) {
	if len(key) <= len(a.Prefix)+len(a.Suffix)+1 {
		return "", false
	}
	if !strings.HasPrefix(key, a.Prefix) || !strings.HasSuffix(key, "."+a.Suffix) {
		return "", false
	}
	ns := key[len(a.Prefix) : len(key)-len(a.Suffix)-1]
	if ns == "" || strings.Contains(ns, ".") {
		return "", false
	}
	return ns, true
}

func (a AffixSetting[T]) Match(key string) bool {
	_, ok := a.Namespace(key)
	return ok
}

func (a AffixSetting[T]) Namespaces(settings *Settings) []string {
	var out []string
	for _, key := range settings.KeysWithPrefix(a.Prefix) {
		if ns, ok := a.Namespace(key); ok {
			out = append(out, ns)
		}
	}
	return out
}

func (a AffixSetting[T]) AllConcrete(settings *Settings) []Setting[T] {
	namespaces := a.Namespaces(settings)
	out := make([]Setting[T], 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, a.Concrete(ns))
	}
	return out
}

func (a AffixSetting[T]) HasProperty(p Property) bool {
	return a.Properties&p != 0
}

func ParseString(key string, raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	default:
		return "", NewValidationError(key, raw, "expected a string")
	}
}

func ParseBool(key string, raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, NewValidationError(key, raw, "expected [true] or [false]")
}

func ParseInt(key string, raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n, nil
		}
	}
	return 0, NewValidationError(key, raw, "expected an integer")
}

func ParseDuration(key string, raw interface{}) (time.Duration, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err == nil {
			return d, nil
		}
	}
	return 0, NewValidationError(key, raw, "expected a duration such as [30s]")
}

// ParseStringList accepts a list or a comma separated string. An empty
// string is an empty list.
func ParseStringList(key string, raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := ParseString(key, item)
			if err != nil {
				return nil, err
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		return ParseStringList(key, strings.Split(v, ","))
	default:
		return nil, NewValidationError(key, raw, "expected a list of strings")
	}
}

func MinInt(min int) func(string, int) error {
	return func(key string, v int) error {
		if v < min {
			return NewValidationError(key, v, fmt.Sprintf("must be >= %d", min))
		}
		return nil
	}
}

func NonNegativeDuration(key string, v time.Duration) error {
	if v < 0 {
		return NewValidationError(key, v, "must not be negative")
	}
	return nil
}
