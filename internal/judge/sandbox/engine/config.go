package engine

const (
	defaultStderrMaxBytes int64 = 64 * 1024
	defaultOutputMaxBytes int64 = 1 << 20
)

// Config controls engine behavior.
type Config struct {
	// StderrMaxBytes bounds captured stderr.
	StderrMaxBytes int64 `yaml:"stderrMaxBytes"`
	// DefaultOutputBytes applies when a RunSpec carries no output limit.
	DefaultOutputBytes int64 `yaml:"defaultOutputBytes"`
	// BaseEnv is prepended to every RunSpec environment.
	BaseEnv []string `yaml:"baseEnv"`
}

func (c Config) withDefaults() Config {
	if c.StderrMaxBytes <= 0 {
		c.StderrMaxBytes = defaultStderrMaxBytes
	}
	if c.DefaultOutputBytes <= 0 {
		c.DefaultOutputBytes = defaultOutputMaxBytes
	}
	return c
}
