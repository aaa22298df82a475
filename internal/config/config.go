// Package config resolves the loader's configuration document and the
// warehouse credentials taken from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultPath is where the document is looked up when LOADER_CONFIG_PATH is unset.
const DefaultPath = "config.toml"

const (
	EnvConfigPath        = "LOADER_CONFIG_PATH"
	EnvSnowflakeUser     = "SNOWFLAKE_USER"
	EnvSnowflakePassword = "SNOWFLAKE_PASSWORD"
)

type Local struct {
	DestinationFolder string `mapstructure:"destination_folder"`
	FileName          string `mapstructure:"file_name"`
}

type Source struct {
	URL string `mapstructure:"url"`
}

// Snowflake holds the non-secret connection parameters and the load target.
type Snowflake struct {
	Account   string `mapstructure:"account"`
	Warehouse string `mapstructure:"warehouse"`
	Database  string `mapstructure:"database"`
	Schema    string `mapstructure:"schema"`
	Role      string `mapstructure:"role"`
	StageName string `mapstructure:"stage_name"`
	Table     string `mapstructure:"table"`
}

// Config is read once per invocation and not modified afterwards.
type Config struct {
	Local     Local     `mapstructure:"local"`
	Source    Source    `mapstructure:"source"`
	Snowflake Snowflake `mapstructure:"snowflake"`
}

// LocalPath is where the downloaded file is written.
func (c *Config) LocalPath() string {
	return filepath.Join(c.Local.DestinationFolder, c.Local.FileName)
}

// Path returns LOADER_CONFIG_PATH or DefaultPath.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the document at path. The format is taken from the file extension.
// Every required key is checked before returning, so a missing key fails here
// rather than at first use.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// MissingKeysError lists required keys that are absent or blank.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return "missing config keys: " + strings.Join(e.Keys, ", ")
}

// Validate reports every blank required key at once.
func (c *Config) Validate() error {
	required := []struct {
		key string
		val string
	}{
		{"local.destination_folder", c.Local.DestinationFolder},
		{"local.file_name", c.Local.FileName},
		{"source.url", c.Source.URL},
		{"snowflake.account", c.Snowflake.Account},
		{"snowflake.warehouse", c.Snowflake.Warehouse},
		{"snowflake.database", c.Snowflake.Database},
		{"snowflake.schema", c.Snowflake.Schema},
		{"snowflake.role", c.Snowflake.Role},
		{"snowflake.stage_name", c.Snowflake.StageName},
		{"snowflake.table", c.Snowflake.Table},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Keys: missing}
	}
	return nil
}

// Credentials are only ever sourced from the environment.
type Credentials struct {
	User     string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s:[REDACTED]", c.User)
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("user", c.User))
}

// LoadCredentials reads SNOWFLAKE_USER and SNOWFLAKE_PASSWORD.
func LoadCredentials() (Credentials, error) {
	user := strings.TrimSpace(os.Getenv(EnvSnowflakeUser))
	pass := os.Getenv(EnvSnowflakePassword)

	if user == "" {
		return Credentials{}, fmt.Errorf("missing env %s", EnvSnowflakeUser)
	}
	if strings.TrimSpace(pass) == "" {
		return Credentials{}, fmt.Errorf("missing env %s", EnvSnowflakePassword)
	}
	return Credentials{User: user, Password: pass}, nil
}

// LoadDotEnv loads variables from a .env file. A missing file is not an error, and
// variables already present in the environment are left untouched.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}
