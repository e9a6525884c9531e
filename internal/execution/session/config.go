package session

import "time"

// Config bounds one session.
type Config struct {
	// WallTimeout is the base run deadline, scaled by the language multiplier.
	WallTimeout    time.Duration `yaml:"wallTimeout"`
	KillGrace      time.Duration `yaml:"killGrace"`
	MaxOutputBytes int64         `yaml:"maxOutputBytes"`
	InputQueue     int           `yaml:"inputQueue"`
	MaxInputBytes  int           `yaml:"maxInputBytes"`
	// DrainTimeout bounds the wait for buffered output after the child exits.
	DrainTimeout time.Duration `yaml:"drainTimeout"`
	SendTimeout  time.Duration `yaml:"sendTimeout"`
	// ArchiveTimeout bounds the transcript upload during cleanup.
	ArchiveTimeout time.Duration `yaml:"archiveTimeout"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.WallTimeout == 0 {
		c.WallTimeout = 10 * time.Second
	}
	if c.KillGrace == 0 {
		c.KillGrace = 500 * time.Millisecond
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = 1 << 20
	}
	if c.InputQueue == 0 {
		c.InputQueue = 64
	}
	if c.MaxInputBytes == 0 {
		c.MaxInputBytes = 64 << 10
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 2 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.ArchiveTimeout == 0 {
		c.ArchiveTimeout = 5 * time.Second
	}
}
