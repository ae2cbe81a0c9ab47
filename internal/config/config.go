// Package config loads the server configuration from flags, environment
// variables (prefix FTPCORE_), .env files and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is the prefix of the environment variables, e.g.
// FTPCORE_IDLE_TIMEOUT=2m.
const EnvPrefix = "ftpcore"

// UserSpec is a password user. On the command line and in the environment a
// user is written as name:bcrypt-hash[:home[:ro]].
type UserSpec struct {
	Name     string
	Hash     string
	Home     string
	ReadOnly bool
}

// ServerConfig is the complete configuration of ftpcored.
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	Root       string `mapstructure:"root"`
	Welcome    string `mapstructure:"welcome"`
	ServerName string `mapstructure:"server-name"`

	Users     []UserSpec `mapstructure:"users"`
	Anonymous bool       `mapstructure:"anonymous"`
	AnonWrite bool       `mapstructure:"anon-write"`

	IdleTimeout     time.Duration `mapstructure:"idle-timeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`

	MaxConnections      int      `mapstructure:"max-connections"`
	MaxConnectionsPerIP int      `mapstructure:"max-connections-per-ip"`
	ResponseBuffer      int      `mapstructure:"response-buffer"`
	ResponseBandwidth   int64    `mapstructure:"response-bandwidth"`
	DisableCommands     []string `mapstructure:"disable-commands"`

	LogLevel    string `mapstructure:"log-level"`
	LogFormat   string `mapstructure:"log-format"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}

// Defaults holds the value of every key when nothing else sets it.
var Defaults = map[string]any{
	"addr":                   ":2121",
	"root":                   "",
	"welcome":                "FTP Server Ready",
	"server-name":            "UNIX Type: L8",
	"users":                  "",
	"anonymous":              true,
	"anon-write":             false,
	"idle-timeout":           5 * time.Minute,
	"write-timeout":          30 * time.Second,
	"shutdown-timeout":       10 * time.Second,
	"max-connections":        0,
	"max-connections-per-ip": 0,
	"response-buffer":        16,
	"response-bandwidth":     int64(0),
	"disable-commands":       "",
	"log-level":              "info",
	"log-format":             "text",
	"metrics-addr":           "",
}

// NewViper returns a viper instance with the defaults set, .env and
// .env.local loaded into the process environment, and FTPCORE_* variables
// bound.
func NewViper() *viper.Viper {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	for k, val := range Defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv() // read in environment variables that match
	return v
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToUserSpecHook(),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	for i, c := range cfg.DisableCommands {
		cfg.DisableCommands[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringToUserSpecHook parses name:hash[:home[:ro]] into a UserSpec, and a
// comma-separated list of them into a []UserSpec.
func stringToUserSpecHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		switch t {
		case reflect.TypeFor[UserSpec]():
			return ParseUserSpec(data.(string))
		case reflect.TypeFor[[]UserSpec]():
			raw := strings.TrimSpace(data.(string))
			if raw == "" {
				return []UserSpec{}, nil
			}
			var users []UserSpec
			for _, s := range strings.Split(raw, ",") {
				u, err := ParseUserSpec(s)
				if err != nil {
					return nil, err
				}
				users = append(users, u)
			}
			return users, nil
		}
		return data, nil
	}
}

// ParseUserSpec parses name:hash[:home[:ro]].
func ParseUserSpec(s string) (UserSpec, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return UserSpec{}, fmt.Errorf("invalid user %q (expected name:hash[:home[:ro]])", s)
	}
	u := UserSpec{Name: parts[0], Hash: parts[1], Home: "/"}
	if len(parts) > 2 && parts[2] != "" {
		u.Home = parts[2]
	}
	if len(parts) == 4 {
		ro, err := strconv.ParseBool(parts[3])
		if err != nil && parts[3] != "ro" {
			return UserSpec{}, fmt.Errorf("invalid read-only flag in user %q", s)
		}
		u.ReadOnly = ro || parts[3] == "ro"
	}
	return u, nil
}

// Validate checks the configuration for values the server would reject.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q (expected text or json)", c.LogFormat))
	}
	if c.IdleTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxConnections < 0 || c.MaxConnectionsPerIP < 0 {
		errs = append(errs, errors.New("connection limits must not be negative"))
	}
	if c.ResponseBuffer < 0 {
		errs = append(errs, errors.New("response buffer must not be negative"))
	}
	if c.ResponseBandwidth < 0 {
		errs = append(errs, errors.New("response bandwidth must not be negative"))
	}

	seen := make(map[string]bool)
	for _, u := range c.Users {
		if seen[u.Name] {
			errs = append(errs, fmt.Errorf("user %q defined twice", u.Name))
		}
		seen[u.Name] = true
		if _, err := bcrypt.Cost([]byte(u.Hash)); err != nil {
			errs = append(errs, fmt.Errorf("user %q: invalid bcrypt hash: %w", u.Name, err))
		}
		if !path.IsAbs(u.Home) {
			errs = append(errs, fmt.Errorf("user %q: home %q must be absolute", u.Name, u.Home))
		}
	}
	if len(c.Users) == 0 && !c.Anonymous {
		errs = append(errs, errors.New("no users configured and anonymous access disabled"))
	}
	return errors.Join(errs...)
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", s)
	}
	return level, nil
}

// OpenFs returns the file system to serve: the directory Root on disk, or
// an in-memory file system when Root is empty.
func (c *ServerConfig) OpenFs() (afero.Fs, error) {
	if c.Root == "" {
		return afero.NewMemMapFs(), nil
	}
	osFs := afero.NewOsFs()
	ok, err := afero.DirExists(osFs, c.Root)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", c.Root, err)
	}
	if !ok {
		return nil, fmt.Errorf("root %s is not a directory", c.Root)
	}
	return afero.NewBasePathFs(osFs, c.Root), nil
}

// String returns a formatted string representation of the configuration.
// Password hashes are not printed.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	orNone := func(s string) string {
		if s == "" {
			return "(none)"
		}
		return s
	}

	addSection("FTP Server")
	addField("Address", c.Addr)
	addField("Root", orNone(c.Root))
	addField("Server Name", c.ServerName)
	addField("Idle Timeout", c.IdleTimeout.String())
	addField("Write Timeout", c.WriteTimeout.String())
	addField("Shutdown Timeout", c.ShutdownTimeout.String())

	addSection("Limits")
	addField("Max Connections", strconv.Itoa(c.MaxConnections))
	addField("Max Per IP", strconv.Itoa(c.MaxConnectionsPerIP))
	addField("Response Buffer", strconv.Itoa(c.ResponseBuffer))
	addField("Response Bandwidth", fmt.Sprintf("%d B/s", c.ResponseBandwidth))
	addField("Disabled Commands", orNone(strings.Join(c.DisableCommands, ",")))

	addSection("Access")
	addField("Anonymous", strconv.FormatBool(c.Anonymous))
	addField("Anonymous Write", strconv.FormatBool(c.AnonWrite))
	for _, u := range c.Users {
		mode := "rw"
		if u.ReadOnly {
			mode = "ro"
		}
		addField(u.Name, fmt.Sprintf("%s (%s)", u.Home, mode))
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)
	addField("Metrics Address", orNone(c.MetricsAddr))

	return sb.String()
}
