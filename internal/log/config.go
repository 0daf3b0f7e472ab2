package log

import (
	"io"
	"os"
	"strings"
)

// Format selects the slog handler
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// String returns the format name used in configuration files
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ParseFormat parses "json" or "text" (also "console"), defaulting to text
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Config holds configuration for the logger
type Config struct {
	Level  Level
	Format Format

	// Output defaults to stderr so log lines never interleave with the
	// interactive prompt on stdout.
	Output io.Writer

	AddSource bool

	ServiceName    string
	ServiceVersion string
}

// DefaultConfig logs warnings and above as text to stderr
func DefaultConfig() Config {
	return Config{
		Level:          LevelWarn,
		Format:         FormatText,
		Output:         os.Stderr,
		ServiceName:    "stocktake",
		ServiceVersion: "dev",
	}
}

// DevelopmentConfig logs everything with source locations
func DevelopmentConfig() Config {
	c := DefaultConfig()
	c.Level = LevelDebug
	c.AddSource = true
	return c
}

// FromSettings builds a config from the string values found in the
// configuration file.
func FromSettings(level, format, version string) Config {
	c := DefaultConfig()
	c.Level = ParseLevel(level)
	c.Format = ParseFormat(format)
	if version != "" {
		c.ServiceVersion = version
	}
	return c
}
