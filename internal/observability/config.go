package observability

import (
	"strings"

	"github.com/smallbiznis/settlr/internal/config"
)

const defaultServiceName = "settlr"

// Config is the resolved view every observability provider reads.
type Config struct {
	ServiceName string
	Role        string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability
	return Config{
		ServiceName:          serviceName(cfg.AppName, cfg.Role),
		Role:                 cfg.Role,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             orDefault(obs.LogLevel, "info"),
		LogFormat:            orDefault(obs.LogFormat, "json"),
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: obs.OtlpEndpoint,
		OtelExporterProtocol: orDefault(obs.OtlpProtocol, "grpc"),
		OtelSamplingRatio:    clampRatio(obs.SamplingRatio),
	}
}

// serviceName yields "settlr-worker" style names so api and worker spans
// and series stay apart in a shared backend.
func serviceName(app, role string) string {
	name := strings.TrimSpace(app)
	if name == "" {
		name = defaultServiceName
	}
	role = strings.TrimSpace(role)
	if role == "" || strings.HasSuffix(name, "-"+role) {
		return name
	}
	return name + "-" + role
}

func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// Console reports whether logs should be human readable. The cli role always
// writes to a terminal.
func (c Config) Console() bool {
	return c.LogFormat == "console" || c.Role == "cli"
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
