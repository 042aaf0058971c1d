// Package config loads named yaml configurations, validates them and pushes
// reloads to registered listeners.
package config

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// ConfigChangeListener is notified after a watched configuration was reloaded
// and validated. Listeners ignore names they are not interested in.
type ConfigChangeListener interface {
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
}
