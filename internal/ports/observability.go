package ports

import "context"

type HealthStatus struct {
	Healthy bool                   `json:"healthy"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type HealthCheckProvider interface {
	GetHealth() HealthStatus
}

// SettingsUpdate is the result of a dynamic settings change.
type SettingsUpdate struct {
	Acknowledged  bool              `json:"acknowledged"`
	Changed       []string          `json:"changed"`
	ConnectErrors map[string]string `json:"connect_errors,omitempty"`
}

// RemoteIntrospector is the read and update surface served over HTTP.
// Settings returned by it never contain filtered values.
type RemoteIntrospector interface {
	HealthCheckProvider
	RemoteInfo() interface{}
	ClusterSettings() map[string]interface{}
	UpdateClusterSettings(ctx context.Context, patch map[string]interface{}) (*SettingsUpdate, error)
}
