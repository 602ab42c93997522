// Performs a one-shot login and persists the resulting session, optionally
// enrolling the account password in the system keyring.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/myt-tools/myt/pkg/auth"
	"github.com/myt-tools/myt/pkg/cli"
)

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	cfg := cli.NewConfig()
	cfg.RegisterCommandLineFlags()
	debug := flag.Bool("debug", false, "Enable debug logging.")
	savePassword := flag.Bool("save-password", false, "Store the account password in the system keyring.")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [OPTION...]\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "\nLogs in and saves the session for the other tools.\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()

	if err := cfg.LoadFile(); err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return
	}
	cfg.ReadFromEnvironment()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return
	}
	password, err := cfg.ResolvePassword()
	if err != nil {
		logger.Error("failed to resolve account password", zap.Error(err))
		return
	}
	if *savePassword {
		if err := cfg.SavePasswordToKeyring(password); err != nil {
			logger.Error("failed to save password", zap.Error(err))
			return
		}
		fmt.Println("Password saved to keyring.")
	}

	manager := auth.NewManager(auth.Config{
		Username:    cfg.Username,
		Password:    password,
		VIN:         cfg.VIN,
		Credentials: &auth.CredentialFile{Path: filepath.Join(cfg.CacheDir, "user_data.json")},
		Logger:      logger,
	})
	record, err := manager.Session(context.Background())
	if err != nil {
		logger.Error("login failed", zap.Error(err))
		return
	}
	fmt.Printf("Session valid until %s\n", record.Expiration.Format("2006-01-02 15:04:05 MST"))
	status = 0
}

func newLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
