// Package config reads the htmlpdfsign configuration from TOML or YAML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/digitorus/htmlpdfsign/cms"
	"github.com/digitorus/htmlpdfsign/keystore"
	"github.com/digitorus/htmlpdfsign/render"
)

var (
	DefaultLocation = "./htmlpdfsign.toml" // Default location of the config file

	// DefaultPasswordEnv holds the keystore password unless password_env
	// names another variable.
	DefaultPasswordEnv = "HTMLPDFSIGN_KEYSTORE_PASSWORD"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultWorkers = 4
	DefaultAddr    = ":8080"
)

// Config is the root of the config
type Config struct {
	Keystore  Keystore  `toml:"keystore" yaml:"keystore"`
	Signature Signature `toml:"signature" yaml:"signature"`
	Policy    Policy    `toml:"policy" yaml:"policy"`
	Output    Output    `toml:"output" yaml:"output"`
	Render    Render    `toml:"render" yaml:"render"`
	Server    Server    `toml:"server" yaml:"server"`
	Metrics   Metrics   `toml:"metrics" yaml:"metrics"`
	Log       Log       `toml:"log" yaml:"log"`

	// Timeout bounds render, embed and sign of a single document.
	Timeout time.Duration `toml:"timeout" yaml:"timeout"`

	// Workers is the number of documents signed in parallel.
	Workers int `toml:"workers" yaml:"workers"`
}

type Keystore struct {
	Path        string `toml:"path" yaml:"path" valid:"required~keystore.path is required"`
	Password    string `toml:"password" yaml:"password"`
	PasswordEnv string `toml:"password_env" yaml:"password_env"`
	Alias       string `toml:"alias" yaml:"alias"`
	Type        string `toml:"type" yaml:"type" valid:"in(auto|pkcs12|p12|pfx|jks)~keystore.type is not a known keystore type"`
}

type Signature struct {
	Name     string `toml:"name" yaml:"name"`
	Location string `toml:"location" yaml:"location"`
	Reason   string `toml:"reason" yaml:"reason"`
	Contact  string `toml:"contact" yaml:"contact"`
}

type Policy struct {
	Strict bool   `toml:"strict" yaml:"strict"`
	Digest string `toml:"digest" yaml:"digest"`
}

type Output struct {
	// Directory receives the signed files. Empty writes next to the input.
	Directory string `toml:"directory" yaml:"directory"`
}

type Render struct {
	PageSize string `toml:"page_size" yaml:"page_size"`
}

type Server struct {
	Addr string `toml:"addr" yaml:"addr"`
}

type Metrics struct {
	// Textfile is written after each CLI run for the node exporter.
	Textfile string `toml:"textfile" yaml:"textfile"`
}

type Log struct {
	Env   string `toml:"env" yaml:"env" valid:"in(dev|development|prod|production)~log.env must be dev or prod"`
	Level string `toml:"level" yaml:"level" valid:"in(debug|info|warn|warning|error)~log.level is not a known level"`
}

// Default returns a configuration with every default applied and no
// keystore.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Keystore.Type == "" {
		c.Keystore.Type = "auto"
	}
	if c.Policy.Digest == "" {
		c.Policy.Digest = "sha256"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ValidateFields validates all the fields of the config
func (c Config) ValidateFields() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return err
	}

	var errs []error
	if _, err := keystore.ParseFormat(c.Keystore.Type); err != nil {
		errs = append(errs, err)
	}
	if _, err := cms.ParseDigest(c.Policy.Digest); err != nil {
		errs = append(errs, err)
	}
	if !render.ValidPageSize(c.Render.PageSize) {
		errs = append(errs, fmt.Errorf("render.page_size %q is not supported", c.Render.PageSize))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.Workers < 0 || c.Workers > 256 {
		errs = append(errs, fmt.Errorf("workers must be between 1 and 256, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

// Read loads configfile, fills defaults, resolves the keystore password and
// validates the result.
func Read(configfile string) (*Config, error) {
	var c Config
	if err := decodeFile(configfile, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	if err := c.ResolvePassword(dotenvFiles(configfile)...); err != nil {
		return nil, err
	}
	if err := c.ValidateFields(); err != nil {
		return nil, fmt.Errorf("config %s is not valid: %w", configfile, err)
	}
	return &c, nil
}

func decodeFile(configfile string, c *Config) error {
	f, err := os.Open(configfile)
	if err != nil {
		return fmt.Errorf("config file is missing: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(configfile)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s: %w", configfile, err)
		}
	default:
		md, err := toml.NewDecoder(f).Decode(c)
		if err != nil {
			return fmt.Errorf("decode %s: %w", configfile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("decode %s: unknown keys %v", configfile, undecoded)
		}
	}
	return nil
}

// dotenvFiles lists the .env files next to the config file and in the
// working directory, the former taking precedence.
func dotenvFiles(configfile string) []string {
	files := []string{filepath.Join(filepath.Dir(configfile), ".env")}
	if abs, err := filepath.Abs(files[0]); err == nil {
		if cwd, err := filepath.Abs(".env"); err == nil && cwd != abs {
			files = append(files, ".env")
		}
	}
	return files
}

// ResolvePassword fills Keystore.Password from the environment, then from
// the given .env files. A password set in the file wins.
func (c *Config) ResolvePassword(dotenv ...string) error {
	if c.Keystore.Password != "" {
		return nil
	}
	name := c.Keystore.PasswordEnv
	if name == "" {
		name = DefaultPasswordEnv
	}
	if v, ok := os.LookupEnv(name); ok {
		c.Keystore.Password = v
		return nil
	}

	for _, file := range dotenv {
		env, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read %s: %w", file, err)
		}
		if v, ok := env[name]; ok {
			c.Keystore.Password = v
			return nil
		}
	}
	return nil
}

// KeystoreFormat returns the parsed keystore type.
func (c *Config) KeystoreFormat() keystore.Format {
	f, _ := keystore.ParseFormat(c.Keystore.Type)
	return f
}
