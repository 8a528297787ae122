package domain

import (
	"fmt"
	"net"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

const RemoteClusterPrefix = "cluster.remote."

const (
	DefaultConnectionsPerCluster = 3
	DefaultInitialConnectTimeout = 30 * time.Second
)

var RemoteConnectionsPerClusterGlobal = Setting[int]{
	Key:        RemoteClusterPrefix + "connections_per_cluster",
	Default:    DefaultConnectionsPerCluster,
	Parse:      ParseInt,
	Validate:   MinInt(1),
	Properties: PropertyNodeScope | PropertyDynamic,
}

var RemoteInitialConnectTimeout = Setting[time.Duration]{
	Key:        RemoteClusterPrefix + "initial_connect_timeout",
	Default:    DefaultInitialConnectTimeout,
	Parse:      ParseDuration,
	Validate:   NonNegativeDuration,
	Properties: PropertyNodeScope | PropertyDynamic,
}

var RemoteNodeAttribute = Setting[string]{
	Key:        RemoteClusterPrefix + "node.attribute",
	Default:    "",
	Parse:      ParseString,
	Properties: PropertyNodeScope | PropertyDynamic,
}

var RemoteClusterSeeds = AffixSetting[[]string]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "seeds",
	Default:    []string{},
	Parse:      ParseStringList,
	Validate:   validateAddresses,
	Properties: PropertyNodeScope | PropertyDynamic,
}

var RemoteClusterProxy = AffixSetting[string]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "proxy_address",
	Default:    "",
	Parse:      ParseString,
	Validate:   validateOptionalAddress,
	Properties: PropertyNodeScope | PropertyDynamic,
}

var RemoteClusterMode = AffixSetting[string]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "mode",
	Default:    "",
	Parse:      ParseString,
	Validate:   validateMode,
	Properties: PropertyNodeScope | PropertyDynamic,
}

var RemoteConnectionsPerCluster = AffixSetting[int]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "connections_per_cluster",
	Default:    DefaultConnectionsPerCluster,
	Parse:      ParseInt,
	Validate:   MinInt(1),
	Properties: PropertyNodeScope | PropertyDynamic,
	Fallback:   &RemoteConnectionsPerClusterGlobal,
}

var RemoteClusterNodeAttribute = AffixSetting[string]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "node.attribute",
	Default:    "",
	Parse:      ParseString,
	Properties: PropertyNodeScope | PropertyDynamic,
	Fallback:   &RemoteNodeAttribute,
}

var RemoteClusterSkipUnavailable = AffixSetting[bool]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "skip_unavailable",
	Default:    false,
	Parse:      ParseBool,
	Properties: PropertyNodeScope | PropertyDynamic,
}

var RemoteClusterCredentials = AffixSetting[string]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "credentials",
	Default:    "",
	Parse:      ParseString,
	Properties: PropertyNodeScope | PropertyDynamic | PropertyFiltered,
}

var RemoteClusterServerName = AffixSetting[string]{
	Prefix:     RemoteClusterPrefix,
	Suffix:     "server_name",
	Default:    "",
	Parse:      ParseString,
	Properties: PropertyNodeScope | PropertyDynamic,
}

type settingChecker interface {
	check(settings *Settings) error
}

type affixFamily struct {
	suffix     string
	properties Property
	match      func(key string) (string, bool)
	concrete   func(ns string) settingChecker
}

func familyOf[T any](a AffixSetting[T]) affixFamily {
	return affixFamily{
		suffix:     a.Suffix,
		properties: a.Properties,
		match:      a.Namespace,
		concrete:   func(ns string) settingChecker { return a.Concrete(ns) },
	}
}

var remoteFamilies = []affixFamily{
	familyOf(RemoteClusterSeeds),
	familyOf(RemoteClusterProxy),
	familyOf(RemoteClusterMode),
	familyOf(RemoteConnectionsPerCluster),
	familyOf(RemoteClusterNodeAttribute),
	familyOf(RemoteClusterSkipUnavailable),
	familyOf(RemoteClusterCredentials),
	familyOf(RemoteClusterServerName),
}

var globalSettings = map[string]settingChecker{
	RemoteConnectionsPerClusterGlobal.Key: RemoteConnectionsPerClusterGlobal,
	RemoteInitialConnectTimeout.Key:       RemoteInitialConnectTimeout,
	RemoteNodeAttribute.Key:               RemoteNodeAttribute,
	NodeRolesSetting.Key:                  NodeRolesSetting,
	ClusterNameSetting.Key:                ClusterNameSetting,
	NodeNameSetting.Key:                   NodeNameSetting,
}

func findFamily(key string) (affixFamily, string, bool) {
	for _, f := range remoteFamilies {
		if ns, ok := f.match(key); ok {
			return f, ns, true
		}
	}
	return affixFamily{}, "", false
}

// Validate rejects unknown keys and values of the wrong shape. Absent, null
// and empty values are never errors.
func Validate(settings *Settings) error {
	var errs []error
	for _, key := range settings.Keys() {
		if g, ok := globalSettings[key]; ok {
			if err := g.check(settings); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if strings.HasPrefix(key, NodeAttributePrefix) {
			if _, err := ParseString(key, rawValue(settings, key)); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		f, ns, ok := findFamily(key)
		if !ok {
			errs = append(errs, NewValidationError(key, nil, "unknown setting"))
			continue
		}
		if err := f.concrete(ns).check(settings); err != nil {
			errs = append(errs, err)
		}
	}

	for _, alias := range Aliases(settings) {
		if err := validateModeConsistency(settings, alias); err != nil {
			errs = append(errs, err)
		}
	}

	return JoinValidation(errs)
}

func rawValue(settings *Settings, key string) interface{} {
	v, _ := settings.Get(key)
	return v
}

func validateModeConsistency(settings *Settings, alias string) error {
	mode, err := RemoteClusterMode.Concrete(alias).Get(settings)
	if err != nil || mode == "" {
		return nil
	}
	seeds, _ := RemoteClusterSeeds.Concrete(alias).Get(settings)
	proxy, _ := RemoteClusterProxy.Concrete(alias).Get(settings)

	switch StrategyKind(mode) {
	case StrategyProxy:
		if len(seeds) > 0 {
			key := RemoteClusterSeeds.Concrete(alias).Key
			return NewValidationError(key, seeds, "not allowed when mode is [proxy]")
		}
	case StrategySniff:
		if proxy != "" {
			key := RemoteClusterProxy.Concrete(alias).Key
			return NewValidationError(key, proxy, "not allowed when mode is [sniff]")
		}
	}
	return nil
}

// Filtered returns a copy of settings without any filtered value; it is the
// only view handed to read-back surfaces.
func Filtered(settings *Settings) *Settings {
	b := NewSettingsBuilder()
	for _, key := range settings.Keys() {
		if f, _, ok := findFamily(key); ok && f.properties&PropertyFiltered != 0 {
			continue
		}
		b.Put(key, rawValue(settings, key))
	}
	return b.Build()
}

// IsFilteredKey reports whether key belongs to a filtered setting.
func IsFilteredKey(key string) bool {
	f, _, ok := findFamily(key)
	return ok && f.properties&PropertyFiltered != 0
}

// Aliases returns every configured alias, including inert ones.
func Aliases(settings *Settings) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range settings.KeysWithPrefix(RemoteClusterPrefix) {
		if _, ok := globalSettings[key]; ok {
			continue
		}
		if _, ns, ok := findFamily(key); ok {
			if _, dup := seen[ns]; !dup {
				seen[ns] = struct{}{}
				out = append(out, ns)
			}
		}
	}
	sort.Strings(out)
	return out
}

func validateAddresses(key string, addrs []string) error {
	for _, addr := range addrs {
		if err := validateAddress(key, addr); err != nil {
			return err
		}
	}
	return nil
}

func validateOptionalAddress(key, addr string) error {
	if addr == "" {
		return nil
	}
	return validateAddress(key, addr)
}

func validateAddress(key, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return NewValidationError(key, addr, "expected host:port")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return NewValidationError(key, addr, fmt.Sprintf("invalid port [%s]", port))
	}
	return nil
}

func validateMode(key, mode string) error {
	switch StrategyKind(mode) {
	case "", StrategySniff, StrategyProxy:
		return nil
	}
	return NewValidationError(key, mode, "expected [sniff] or [proxy]")
}

var staticKeys = []string{
	NodeRolesSetting.Key,
	ClusterNameSetting.Key,
	NodeNameSetting.Key,
}

// StaticChanges returns the non-dynamic keys whose values differ between old
// and next. Those are read once when the node starts.
func StaticChanges(old, next *Settings) []string {
	keys := slices.Clone(staticKeys)
	keys = append(keys, old.KeysWithPrefix(NodeAttributePrefix)...)
	keys = append(keys, next.KeysWithPrefix(NodeAttributePrefix)...)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	var changed []string
	for _, key := range keys {
		if !reflect.DeepEqual(rawValue(old, key), rawValue(next, key)) {
			changed = append(changed, key)
		}
	}
	return changed
}
