package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "gamesync"
	envPrefix  = "GAMESYNC"
)

type Config struct {
	InstanceRoot    string        `mapstructure:"instance_root"`
	ToolsDir        string        `mapstructure:"tools_dir"`
	CatalogURL      string        `mapstructure:"catalog_url"`
	ButlerURL       string        `mapstructure:"butler_url"`
	Branch          string        `mapstructure:"branch"`
	OS              string        `mapstructure:"os"`
	Arch            string        `mapstructure:"arch"`
	VersionCacheTTL time.Duration `mapstructure:"version_cache_ttl"`
	ProbeRetries    int           `mapstructure:"probe_retries"`
	ClientBinary    string        `mapstructure:"client_binary"`
	LaunchArgs      []string      `mapstructure:"launch_args"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFile         string        `mapstructure:"log_file"`
	Quiet           bool          `mapstructure:"quiet"`
}

func Default() *Config {
	base := DataDir()
	return &Config{
		InstanceRoot:    filepath.Join(base, "instances"),
		ToolsDir:        filepath.Join(base, "tools"),
		CatalogURL:      "https://cobylobbyht.store/launcher/patches",
		ButlerURL:       defaultButlerURL(),
		Branch:          "release",
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
		VersionCacheTTL: 30 * time.Minute,
		ProbeRetries:    3,
		ClientBinary:    defaultClientBinary(),
		ListenAddr:      "127.0.0.1:7777",
		LogLevel:        "info",
		LogFile:         "console",
	}
}

// Load reads cfgFile, or gamesync.yaml from the data dir and the working
// directory. A missing file is not an error; GAMESYNC_* env vars override.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(DataDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveTo writes cfg as YAML. An empty cfgFile targets the data dir.
func SaveTo(cfg *Config, cfgFile string) error {
	v := newViper(cfg)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(DataDir(), configName+".yaml")
		if err := os.MkdirAll(DataDir(), 0755); err != nil {
			return err
		}
	}

	return v.WriteConfigAs(cfgPath)
}

func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("instance_root", cfg.InstanceRoot)
	v.SetDefault("tools_dir", cfg.ToolsDir)
	v.SetDefault("catalog_url", cfg.CatalogURL)
	v.SetDefault("butler_url", cfg.ButlerURL)
	v.SetDefault("branch", cfg.Branch)
	v.SetDefault("os", cfg.OS)
	v.SetDefault("arch", cfg.Arch)
	v.SetDefault("version_cache_ttl", cfg.VersionCacheTTL)
	v.SetDefault("probe_retries", cfg.ProbeRetries)
	v.SetDefault("client_binary", cfg.ClientBinary)
	v.SetDefault("launch_args", cfg.LaunchArgs)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("quiet", cfg.Quiet)
	return v
}

// DataDir is the per-user directory holding config, instances and tools.
func DataDir() string {
	if dir := os.Getenv(envPrefix + "_HOME"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, configName)
}

func defaultClientBinary() string {
	if runtime.GOOS == "windows" {
		return "HytaleClient.exe"
	}
	return "HytaleClient"
}

func defaultButlerURL() string {
	arch := runtime.GOARCH
	return "https://broth.itch.zone/butler/" + runtime.GOOS + "-" + arch + "/LATEST/archive/default"
}
