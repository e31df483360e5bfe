package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	HTTPConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

// FileSettings is the optional TOML configuration file. Environment
// variables take precedence over any value set here.
type FileSettings struct {
	AppName  string `toml:"app_name"`
	LogLevel string `toml:"log_level"`

	API struct {
		BaseURL        string `toml:"base_url"`
		PatientBaseURL string `toml:"patient_base_url"`
		Timeout        string `toml:"timeout"`
	} `toml:"api"`

	Credentials struct {
		Store      string `toml:"store"`
		DBPath     string `toml:"db_path"`
		Passphrase string `toml:"passphrase"`
	} `toml:"credentials"`
}

type mainConfig struct {
	EnvVars
	HTTP
	Storage
}

// New loads a .env file from the working directory when one exists and
// returns a Config backed by the process environment.
func New() Config {
	_ = godotenv.Load()
	return fromSettings(&FileSettings{})
}

// Load is New plus the TOML file at path. A missing file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	settings := &FileSettings{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, settings); err != nil {
				return nil, errors.Wrapf(err, "[config.Load] decoding %s", path)
			}
		}
	}
	return fromSettings(settings), nil
}

func fromSettings(s *FileSettings) Config {
	return mainConfig{
		EnvVars: EnvVars{file: s},
		HTTP:    HTTP{file: s},
		Storage: Storage{file: s},
	}
}
