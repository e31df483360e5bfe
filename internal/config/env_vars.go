package config

import (
	"os"
	"strings"
)

const (
	appNameVar  = "APP_NAME"
	envVar      = "ENV"
	logLevelVar = "LOG_LEVEL"
)

type EnvVars struct {
	file *FileSettings
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return lookup(appNameVar, e.file.AppName, "Clinic Session")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return env
}

func (e EnvVars) GetLogLevel() string {
	return strings.ToLower(lookup(logLevelVar, e.file.LogLevel, "info"))
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// lookup resolves a setting from the environment, then the config file,
// then the default.
func lookup(envVar, fileValue, defaultValue string) string {
	if fileValue != "" {
		defaultValue = fileValue
	}
	return GetEnv(envVar, defaultValue)
}
