package domain

import (
	"sort"
	"strings"
)

type Role string

const (
	RoleMaster              Role = "master"
	RoleData                Role = "data"
	RoleIngest              Role = "ingest"
	RoleRemoteClusterClient Role = "remote_cluster_client"
	RoleCoordinating        Role = "coordinating_only"
)

// DefaultRoles is the role set of a node with no node.roles setting.
var DefaultRoles = []Role{RoleMaster, RoleData, RoleIngest, RoleRemoteClusterClient}

var knownRoles = map[Role]struct{}{
	RoleMaster:              {},
	RoleData:                {},
	RoleIngest:              {},
	RoleRemoteClusterClient: {},
	RoleCoordinating:        {},
}

const NodeAttributePrefix = "node.attr."

var NodeRolesSetting = Setting[[]string]{
	Key:        "node.roles",
	Default:    rolesToStrings(DefaultRoles),
	Parse:      ParseStringList,
	Validate:   validateRoles,
	Properties: PropertyNodeScope,
}

var ClusterNameSetting = Setting[string]{
	Key:        "cluster.name",
	Default:    "crosslink",
	Parse:      ParseString,
	Properties: PropertyNodeScope,
}

var NodeNameSetting = Setting[string]{
	Key:        "node.name",
	Default:    "",
	Parse:      ParseString,
	Properties: PropertyNodeScope,
}

func validateRoles(key string, roles []string) error {
	for _, r := range roles {
		if _, ok := knownRoles[Role(r)]; !ok {
			return NewValidationError(key, r, "unknown role")
		}
	}
	return nil
}

func rolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// NodeRoles returns the configured role set of the local node.
func NodeRoles(settings *Settings) ([]Role, error) {
	raw, err := NodeRolesSetting.Get(settings)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(raw))
	for _, r := range raw {
		roles = append(roles, Role(r))
	}
	return roles, nil
}

// IsRemoteClusterClient reports whether the local node may open connections
// to remote clusters. True unless node.roles is set without the role.
func IsRemoteClusterClient(settings *Settings) bool {
	roles, err := NodeRoles(settings)
	if err != nil {
		return false
	}
	return hasRole(roles, RoleRemoteClusterClient)
}

// NodeAttributes returns the node.attr.* settings with the prefix removed.
func NodeAttributes(settings *Settings) map[string]string {
	attrs := make(map[string]string)
	for _, key := range settings.KeysWithPrefix(NodeAttributePrefix) {
		if v, err := ParseString(key, rawValue(settings, key)); err == nil {
			attrs[strings.TrimPrefix(key, NodeAttributePrefix)] = v
		}
	}
	return attrs
}

func hasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// DiscoveryNode is a remote endpoint candidate returned by a sniff round.
type DiscoveryNode struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Address    string            `json:"address"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Roles      []Role            `json:"roles"`
}

func (n DiscoveryNode) HasRole(role Role) bool {
	return hasRole(n.Roles, role)
}

// HasAttributeTag reports whether the node carries attribute name with a
// true marker value.
func (n DiscoveryNode) HasAttributeTag(name string) bool {
	v, ok := n.Attributes[name]
	return ok && strings.EqualFold(strings.TrimSpace(v), "true")
}

// Qualifies applies the sniff candidate filter: the node must be a remote
// cluster client and, when attribute is set, carry it as a tag.
func (n DiscoveryNode) Qualifies(attribute string) bool {
	if !n.HasRole(RoleRemoteClusterClient) {
		return false
	}
	return attribute == "" || n.HasAttributeTag(attribute)
}

func SortedRoles(roles []Role) []string {
	out := rolesToStrings(roles)
	sort.Strings(out)
	return out
}
