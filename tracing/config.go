package tracing

// TracerConfig is the "tracing" configuration.
type TracerConfig struct {
	// Enabled turns span creation on. Spans are exported by whatever
	// TracerProvider the host process installs with otel.SetTracerProvider.
	Enabled bool `mapstructure:"enabled"`

	// TracerName is the instrumentation scope name.
	TracerName string `mapstructure:"tracerName"`
}

// GetName returns the configuration name for TracerConfig
func (c *TracerConfig) GetName() string {
	return "tracing"
}

// Validate fills defaults; every value is acceptable.
func (c *TracerConfig) Validate() error {
	if c.TracerName == "" {
		c.TracerName = DefaultTracerName
	}
	return nil
}

// DefaultTracerConfig returns tracing disabled.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{TracerName: DefaultTracerName}
}
