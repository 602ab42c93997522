package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "io.myt-tools.myt"
	keyringPasswordService = "accountPassword"
	keyringDirectory       = "~/.myt_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	value := keyring.BackendType(v)
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

// RegisterCommandLineFlags adds the common flags shared by the command-line
// tools. Call before flag.Parse.
func (c *Config) RegisterCommandLineFlags() {
	flag.StringVar(&c.path, "config", c.path, "Configuration `file`.")
	flag.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "Cache `directory` for snapshots and session data.")

	var names []string
	for _, name := range keyring.AvailableBackends() {
		names = append(names, string(name))
	}
	sort.Strings(names)
	flag.Var(&backendType{c}, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $"+EnvKeyringType+".")
	flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", c.Backend.FileDir, "Keyring `directory` for file-backed keyring types.")
}

// promptSecret reads a secret from the terminal without echo.
func (c *Config) promptSecret(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Backend)
}

// ResolvePassword returns the account password, looking in order at the
// config file and environment, the system keyring, and finally an
// interactive terminal prompt.
func (c *Config) ResolvePassword() (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	if password, err := c.loadPasswordFromKeyring(); err == nil && password != "" {
		return password, nil
	}
	return c.promptSecret("Account password for " + c.Username)
}

func (c *Config) loadPasswordFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(keyringPasswordService + "." + c.Username)
	if err != nil {
		return "", fmt.Errorf("could not load password: %s", err)
	}
	return string(item.Data), nil
}

// SavePasswordToKeyring stores the account password in the system keyring
// under the configured username, so future runs never need it in the config
// file.
func (c *Config) SavePasswordToKeyring(password string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  keyringPasswordService + "." + c.Username,
		Data: []byte(password),
	}); err != nil {
		return fmt.Errorf("failed to enroll password in keyring: %s", err)
	}
	return nil
}
