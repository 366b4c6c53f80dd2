package types

// WorkerIdentity defines a durable judge client credential
type WorkerIdentity struct {
	Name         string   `yaml:"name" json:"name"`
	Key          string   `yaml:"key" json:"-"`
	AllowedHosts []string `yaml:"allowedHosts" json:"allowedHosts,omitempty"`
}
