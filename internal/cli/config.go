// Package cli provides utility functions for command line interface applications.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InstallConfigFlag adds the config flag to the command.
func InstallConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().String("config", "", "use a specific configuration file")
}

// configDirs returns the directories searched for a configuration file named
// after the command, most specific first.
func configDirs(cmdName string) []string {
	dirs := []string{"."}

	if runtime.GOOS == "windows" {
		dirs = append(dirs, filepath.Join("C:\\ProgramData", cmdName))
	} else {
		dirs = append(dirs, filepath.Join("/etc", cmdName), filepath.Join("/usr/local/etc", cmdName))
	}

	if binPath, err := os.Executable(); err != nil {
		slog.Warn("Failed to get current executable path, not adding it as a config dir", "error", err)
	} else {
		dirs = append(dirs, filepath.Dir(binPath))
	}
	return dirs
}

// InitViperConfig initializes the Viper configuration for a command.
//
// An explicit --config flag wins; otherwise the usual config directories are
// searched for a file named after the command. Environment variables prefixed
// with the command name are bound on top.
func InitViperConfig(cmdName string, cmd *cobra.Command, vip *viper.Viper) error {
	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		vip.SetConfigFile(v)
	} else {
		vip.SetConfigName(cmdName)
		for _, dir := range configDirs(cmdName) {
			vip.AddConfigPath(dir)
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
		slog.Info("No configuration file, using defaults, env variables and flags", "error", e)
	} else {
		slog.Info("Using configuration file", "file", vip.ConfigFileUsed())
	}

	vip.SetEnvPrefix(cmdName)
	vip.AutomaticEnv()
	return bindEnvVariables(cmdName, vip)
}

// bindEnvVariables visits the environment and binds every variable carrying
// the command prefix, so viper can unmarshal them into a struct.
// More context on https://github.com/spf13/viper/pull/1429.
func bindEnvVariables(cmdName string, vip *viper.Viper) error {
	prefix := strings.ToUpper(strings.ReplaceAll(cmdName, "-", "_")) + "_"
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}

		name, _, _ := strings.Cut(env, "=")
		key := strings.ReplaceAll(strings.TrimPrefix(name, prefix), "_", ".")
		if err := vip.BindEnv(key, name); err != nil {
			return fmt.Errorf("could not bind environment variable %q: %w", name, err)
		}
	}
	return nil
}
