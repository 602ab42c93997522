/*
Package cli loads client configuration for the command-line tools from a JSON
config file, environment variables and command-line flags.

The config file supplies the account and vehicle identity; secrets can be
left out of it and resolved from the system keyring or an interactive
terminal prompt instead:

	cfg := cli.NewConfig()
	cfg.RegisterCommandLineFlags()
	flag.Parse()
	if err := cfg.LoadFile(); err != nil {
		panic(err)
	}
	cfg.ReadFromEnvironment() // fills in missing fields
	password, err := cfg.ResolvePassword()

Values populated by flags are never overwritten by the file or the
environment.
*/
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"
)

// DefaultConfigPath is where LoadFile looks when no -config flag is given.
const DefaultConfigPath = "configs/myt.json"

// Environment variable equivalents read by [Config.ReadFromEnvironment].
const (
	EnvVIN         = "MYT_VIN"
	EnvUsername    = "MYT_USERNAME"
	EnvPassword    = "MYT_PASSWORD"
	EnvTimezone    = "MYT_TIMEZONE"
	EnvCacheDir    = "MYT_CACHE_DIR"
	EnvInfluxDBURL = "MYT_INFLUXDB_URL"
	EnvKeyringType = "MYT_KEYRING_TYPE"
	EnvKeyringPass = "MYT_KEYRING_PASSWORD"
	EnvKeyringPath = "MYT_KEYRING_PATH"
)

// ConfigError reports a missing or unparsable configuration file, or a
// required field left unset. It is fatal at startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// fileConfig is the JSON shape of the config file.
type fileConfig struct {
	VIN              string `json:"vin"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	Timezone         string `json:"timezone"`
	UseInfluxDB      bool   `json:"use_influxdb"`
	UseRemoteControl bool   `json:"use_remote_control"`
	InfluxDBURL      string `json:"influxdb_url"`
	CacheDir         string `json:"cache_dir"`
	Locale           string `json:"locale"`
}

// Config is the immutable input to the client core.
type Config struct {
	VIN      string
	Username string
	// Password may be empty; ResolvePassword then falls back to the
	// environment, the system keyring and finally a terminal prompt.
	Password         string
	Timezone         string
	UseInfluxDB      bool
	UseRemoteControl bool
	InfluxDBURL      string
	CacheDir         string
	Locale           string

	Backend keyring.Config

	path     string
	password *string
}

// NewConfig returns a Config with defaults applied. Fields are filled in by
// RegisterCommandLineFlags, LoadFile and ReadFromEnvironment, in that order
// of precedence.
func NewConfig() *Config {
	c := &Config{
		path: DefaultConfigPath,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
			FileDir:                  keyringDirectory,
		},
	}
	c.Backend.FilePasswordFunc = c.promptSecret
	return c
}

// LoadFile reads the JSON config file, filling only fields not already set
// by command-line flags. An optional .env file in the working directory is
// processed first so that ReadFromEnvironment sees it.
func (c *Config) LoadFile() error {
	_ = godotenv.Load()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return &ConfigError{Path: c.path, Err: err}
	}
	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return &ConfigError{Path: c.path, Err: err}
	}

	fillIfEmpty(&c.VIN, file.VIN)
	fillIfEmpty(&c.Username, file.Username)
	fillIfEmpty(&c.Password, file.Password)
	fillIfEmpty(&c.Timezone, file.Timezone)
	fillIfEmpty(&c.InfluxDBURL, file.InfluxDBURL)
	fillIfEmpty(&c.CacheDir, file.CacheDir)
	fillIfEmpty(&c.Locale, file.Locale)
	c.UseInfluxDB = file.UseInfluxDB
	c.UseRemoteControl = file.UseRemoteControl

	if c.CacheDir == "" {
		c.CacheDir = "cache"
	}
	return nil
}

// ReadFromEnvironment populates missing fields from environment variables.
// Call it after LoadFile.
func (c *Config) ReadFromEnvironment() {
	fillIfEmpty(&c.VIN, os.Getenv(EnvVIN))
	fillIfEmpty(&c.Username, os.Getenv(EnvUsername))
	fillIfEmpty(&c.Password, os.Getenv(EnvPassword))
	fillIfEmpty(&c.Timezone, os.Getenv(EnvTimezone))
	fillIfEmpty(&c.CacheDir, os.Getenv(EnvCacheDir))
	fillIfEmpty(&c.InfluxDBURL, os.Getenv(EnvInfluxDBURL))

	if len(c.Backend.AllowedBackends) == 0 {
		_ = backendType{c}.Set(os.Getenv(EnvKeyringType))
	}
	if c.password == nil {
		if password, ok := os.LookupEnv(EnvKeyringPass); ok {
			c.password = &password
		}
	}
	if dir := os.Getenv(EnvKeyringPath); dir != "" {
		c.Backend.FileDir = dir
	}
}

func fillIfEmpty(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks the fields every run requires.
func (c *Config) Validate() error {
	for _, required := range []struct {
		name, value string
	}{
		{"vin", c.VIN},
		{"username", c.Username},
		{"timezone", c.Timezone},
	} {
		if required.value == "" {
			return &ConfigError{Path: c.path, Err: fmt.Errorf("missing required field %q", required.name)}
		}
	}
	return nil
}
