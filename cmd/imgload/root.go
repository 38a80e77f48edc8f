package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/imageloader/config"
)

const (
	envPrefix         = "IMGLOAD"
	defaultConfigFile = "~/.imgload.yaml"
)

// cli carries the state shared by every command of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "imgload",
		Short: "Load images through a two-tier cache",
		Long: `imgload downloads images through a memory and disk cache, optionally
transforming them, and manages the cache directory.

Settings come from the config file, IMGLOAD_* environment variables
(e.g. IMGLOAD_CACHE_ROOT, IMGLOAD_LOG_LEVEL) and flags, in increasing
order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig(cmd.Flags().Changed("config"))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", defaultConfigFile, "config file")
	flags.String("cache-dir", "", "cache root directory")
	flags.String("namespace", "", "cache namespace")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "log in JSON")

	c.bind("cache.root", flags.Lookup("cache-dir"))
	c.bind("cache.namespace", flags.Lookup("namespace"))
	c.bind("log.level", flags.Lookup("log-level"))
	c.bind("log.json", flags.Lookup("log-json"))

	rootCmd.AddCommand(newFetchCmd(c))
	rootCmd.AddCommand(newPrefetchCmd(c))
	rootCmd.AddCommand(newCacheCmd(c))
	return rootCmd
}

// bind ties a viper key to a flag; BindPFlag only fails on a nil flag.
func (c *cli) bind(key string, flag *pflag.Flag) {
	_ = c.v.BindPFlag(key, flag)
}

// initConfig layers the defaults, the config file and the environment.
// A missing config file is only an error when it was named explicitly.
func (c *cli) initConfig(explicit bool) error {
	defaults, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	c.v.SetConfigType("yaml")
	if err := c.v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return fmt.Errorf("failed to load default config: %w", err)
	}

	if c.cfgFile != "" {
		path, err := homedir.Expand(c.cfgFile)
		if err != nil {
			return fmt.Errorf("failed to expand config path: %w", err)
		}
		if _, err := os.Stat(path); err == nil {
			c.v.SetConfigFile(path)
			if err := c.v.MergeInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		} else if explicit || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	return nil
}

// config decodes the layered settings.
func (c *cli) config() (*config.Config, error) {
	cfg := config.Default()
	if err := c.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
