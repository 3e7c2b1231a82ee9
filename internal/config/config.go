package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/claude/rehabai/internal/repcount"
)

type Config struct {
	Server    ServerConfig     `yaml:"server" toml:"server"`
	Database  DatabaseConfig   `yaml:"database" toml:"database"`
	Auth      AuthConfig       `yaml:"auth" toml:"auth"`
	Tailscale TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Session   SessionConfig    `yaml:"session" toml:"session"`
	Pose      PoseConfig       `yaml:"pose" toml:"pose"`
	Exercises []ExerciseConfig `yaml:"exercises" toml:"exercises"`
	Log       LogConfig        `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"sslmode" toml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key" toml:"api_key"`
	// Clinicians lists the logins granted the clinician role.
	Clinicians []string `yaml:"clinicians" toml:"clinicians"`
	// DevLogin is the identity assumed for every request when Tailscale is off.
	DevLogin string `yaml:"dev_login" toml:"dev_login"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Hostname string `yaml:"hostname" toml:"hostname"`
	StateDir string `yaml:"state_dir" toml:"state_dir"`
}

type SessionConfig struct {
	// Period between sampling ticks, e.g. "100ms".
	Period          string `yaml:"period" toml:"period"`
	EstimateTimeout string `yaml:"estimate_timeout" toml:"estimate_timeout"`
	Keepalive       string `yaml:"keepalive" toml:"keepalive"`
	Exercise        string `yaml:"exercise" toml:"exercise"`

	period          time.Duration
	estimateTimeout time.Duration
	keepalive       time.Duration
}

type PoseConfig struct {
	// Endpoint of the pose inference service. Empty means clients push
	// their own estimates.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Timeout  string `yaml:"timeout" toml:"timeout"`

	timeout time.Duration
}

// ExerciseConfig defines an exercise as data. When the keypoint triple is
// omitted the elbow of Side is measured.
type ExerciseConfig struct {
	Name        string   `yaml:"name" toml:"name"`
	Side        string   `yaml:"side" toml:"side"`
	Proximal    string   `yaml:"proximal" toml:"proximal"`
	Vertex      string   `yaml:"vertex" toml:"vertex"`
	Distal      string   `yaml:"distal" toml:"distal"`
	ExtendAbove float64  `yaml:"extend_above" toml:"extend_above"`
	FlexBelow   float64  `yaml:"flex_below" toml:"flex_below"`
	MinScore    *float64 `yaml:"min_score" toml:"min_score"`
	AngleMode   string   `yaml:"angle_mode" toml:"angle_mode"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// IsClinician reports whether login is listed as a clinician.
func (a AuthConfig) IsClinician(login string) bool {
	for _, c := range a.Clinicians {
		if strings.EqualFold(c, login) {
			return true
		}
	}
	return false
}

func (s SessionConfig) PeriodDuration() time.Duration          { return s.period }
func (s SessionConfig) EstimateTimeoutDuration() time.Duration { return s.estimateTimeout }
func (s SessionConfig) KeepaliveDuration() time.Duration       { return s.keepalive }
func (p PoseConfig) TimeoutDuration() time.Duration            { return p.timeout }

// Exercise converts the definition into a counter exercise with defaults applied.
func (e ExerciseConfig) Exercise() repcount.Exercise {
	ex := repcount.BicepCurl(repcount.Side(strings.ToLower(e.Side)))
	ex.Name = e.Name
	if e.Proximal != "" || e.Vertex != "" || e.Distal != "" {
		ex.Proximal, ex.Vertex, ex.Distal = e.Proximal, e.Vertex, e.Distal
	}
	ex.ExtendAbove = e.ExtendAbove
	ex.FlexBelow = e.FlexBelow
	ex.AngleMode = repcount.AngleMode(strings.ToLower(e.AngleMode))
	ex = ex.WithDefaults()
	// Applied after defaults so an explicit 0 is kept.
	if e.MinScore != nil {
		ex.MinScore = *e.MinScore
	}
	return ex
}

// ExerciseCatalog returns the configured exercises.
func (c *Config) ExerciseCatalog() []repcount.Exercise {
	out := make([]repcount.Exercise, 0, len(c.Exercises))
	for _, e := range c.Exercises {
		out = append(out, e.Exercise())
	}
	return out
}

// Handler builds the slog handler selected by the log section.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.level()}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (l LogConfig) level() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads config from a YAML or TOML file (chosen by extension), then
// applies environment variable overrides. Env vars use the prefix REHABAI_
// and underscore-separated paths:
//
//	REHABAI_SERVER_HOST, REHABAI_SERVER_PORT,
//	REHABAI_DB_HOST, REHABAI_DB_PORT, REHABAI_DB_NAME,
//	REHABAI_DB_USER, REHABAI_DB_PASSWORD, REHABAI_DB_SSLMODE,
//	REHABAI_AUTH_API_KEY, REHABAI_AUTH_CLINICIANS (comma-separated),
//	REHABAI_TAILSCALE_ENABLED, REHABAI_TAILSCALE_HOSTNAME,
//	REHABAI_POSE_ENDPOINT, REHABAI_SESSION_PERIOD, REHABAI_LOG_FORMAT
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REHABAI_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("REHABAI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REHABAI_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("REHABAI_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("REHABAI_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REHABAI_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("REHABAI_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REHABAI_DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("REHABAI_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("REHABAI_AUTH_CLINICIANS"); v != "" {
		cfg.Auth.Clinicians = nil
		for _, login := range strings.Split(v, ",") {
			if login = strings.TrimSpace(login); login != "" {
				cfg.Auth.Clinicians = append(cfg.Auth.Clinicians, login)
			}
		}
	}
	if v := os.Getenv("REHABAI_TAILSCALE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = enabled
		}
	}
	if v := os.Getenv("REHABAI_TAILSCALE_HOSTNAME"); v != "" {
		cfg.Tailscale.Hostname = v
	}
	if v := os.Getenv("REHABAI_POSE_ENDPOINT"); v != "" {
		cfg.Pose.Endpoint = v
	}
	if v := os.Getenv("REHABAI_SESSION_PERIOD"); v != "" {
		cfg.Session.Period = v
	}
	if v := os.Getenv("REHABAI_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Session.Period == "" {
		cfg.Session.Period = "100ms"
	}
	if cfg.Session.EstimateTimeout == "" {
		cfg.Session.EstimateTimeout = "2s"
	}
	if cfg.Session.Keepalive == "" {
		cfg.Session.Keepalive = "5s"
	}
	if cfg.Session.Exercise == "" {
		cfg.Session.Exercise = "bicep_curl"
	}
	if cfg.Pose.Timeout == "" {
		cfg.Pose.Timeout = "2s"
	}
	if cfg.Auth.DevLogin == "" {
		cfg.Auth.DevLogin = "local"
	}
	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "rehabai"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}

	var err error
	if c.Session.period, err = positiveDuration("session.period", c.Session.Period); err != nil {
		return err
	}
	if c.Session.estimateTimeout, err = positiveDuration("session.estimate_timeout", c.Session.EstimateTimeout); err != nil {
		return err
	}
	if c.Session.keepalive, err = positiveDuration("session.keepalive", c.Session.Keepalive); err != nil {
		return err
	}
	if c.Pose.timeout, err = positiveDuration("pose.timeout", c.Pose.Timeout); err != nil {
		return err
	}

	names := map[string]bool{"bicep_curl": true}
	for i, e := range c.Exercises {
		switch strings.ToLower(e.Side) {
		case "", string(repcount.SideLeft), string(repcount.SideRight):
		default:
			return fmt.Errorf("exercises[%d].side must be left or right, got %q", i, e.Side)
		}
		if err := e.Exercise().Validate(); err != nil {
			return fmt.Errorf("exercises[%d]: %w", i, err)
		}
		names[e.Name] = true
	}
	if !names[c.Session.Exercise] {
		return fmt.Errorf("session.exercise %q is not a defined exercise", c.Session.Exercise)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func positiveDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}
