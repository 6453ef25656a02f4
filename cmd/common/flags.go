package common

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// CommonFlags contains flags shared by every command
type CommonFlags struct {
	EnvFile  *string
	LogLevel *string
	Version  *bool
}

// RegisterCommonFlags registers common flags on fs
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		EnvFile:  fs.String("env", ".env", "Environment file path"),
		LogLevel: fs.String("log-level", "", "Log level override (debug, info, warn, error)"),
		Version:  fs.Bool("version", false, "Show version information"),
	}
}

// Apply loads the env file and pushes flag overrides into the environment.
// A missing env file is not an error; the process environment is used as is.
func (f *CommonFlags) Apply() error {
	if err := LoadEnvFile(*f.EnvFile); err != nil {
		return err
	}
	if *f.LogLevel != "" {
		return os.Setenv("LOG_LEVEL", *f.LogLevel)
	}
	return nil
}

// LoadEnvFile loads variables from path without overriding ones already set
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
