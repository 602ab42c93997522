package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "myt.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewConfig()
	c.path = path
	return c
}

func TestLoadFile(t *testing.T) {
	c := writeConfig(t, `{
		"vin": "JTMW1234567890000",
		"username": "driver@example.com",
		"timezone": "Europe/Helsinki",
		"use_influxdb": true,
		"use_remote_control": true,
		"influxdb_url": "http://influx.example/write?db=cars"
	}`)
	if err := c.LoadFile(); err != nil {
		t.Fatal(err)
	}
	if c.VIN != "JTMW1234567890000" || c.Username != "driver@example.com" {
		t.Errorf("identity fields not loaded: %+v", c)
	}
	if !c.UseInfluxDB || !c.UseRemoteControl {
		t.Error("feature toggles not loaded")
	}
	if c.CacheDir != "cache" {
		t.Errorf("CacheDir = %q, want the default", c.CacheDir)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("complete config failed validation: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	c := NewConfig()
	c.path = filepath.Join(t.TempDir(), "absent.json")
	err := c.LoadFile()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if cfgErr.Path != c.path {
		t.Errorf("ConfigError.Path = %q", cfgErr.Path)
	}
}

func TestLoadFileUnparsable(t *testing.T) {
	c := writeConfig(t, `{"vin": `)
	var cfgErr *ConfigError
	if err := c.LoadFile(); !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigError", err)
	}
}

func TestLoadFileKeepsFlagValues(t *testing.T) {
	c := writeConfig(t, `{"vin":"FILEVIN","cache_dir":"/from/file"}`)
	// Simulates -cache-dir having been parsed before LoadFile.
	c.CacheDir = "/from/flag"
	if err := c.LoadFile(); err != nil {
		t.Fatal(err)
	}
	if c.CacheDir != "/from/flag" {
		t.Errorf("CacheDir = %q, flag value must win over the file", c.CacheDir)
	}
	if c.VIN != "FILEVIN" {
		t.Errorf("VIN = %q", c.VIN)
	}
}

func TestReadFromEnvironment(t *testing.T) {
	t.Setenv(EnvVIN, "ENVVIN")
	t.Setenv(EnvUsername, "env@example.com")
	t.Setenv(EnvTimezone, "Europe/Helsinki")
	t.Setenv(EnvCacheDir, "/env/cache")

	c := NewConfig()
	c.Username = "file@example.com"
	c.ReadFromEnvironment()

	if c.VIN != "ENVVIN" {
		t.Errorf("VIN = %q", c.VIN)
	}
	if c.Username != "file@example.com" {
		t.Errorf("Username = %q, environment must not override a set field", c.Username)
	}
	if c.CacheDir != "/env/cache" {
		t.Errorf("CacheDir = %q", c.CacheDir)
	}
}

func TestValidateMissingFields(t *testing.T) {
	c := NewConfig()
	c.VIN = "JTMW1234567890000"
	c.Timezone = "Europe/Helsinki"
	err := c.Validate()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigError", err)
	}
}

func TestResolvePasswordPrefersConfigured(t *testing.T) {
	c := NewConfig()
	c.Password = "from-config"
	password, err := c.ResolvePassword()
	if err != nil {
		t.Fatal(err)
	}
	if password != "from-config" {
		t.Errorf("ResolvePassword = %q", password)
	}
}
