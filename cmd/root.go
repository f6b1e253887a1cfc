package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	dbPath     string
	redisURL   string
	logLevel   string
	logFile    string
	allCapable bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ioc-console",
	Short: "Terminal-first IOC extraction and lookup console",
	Long: `IOC Console extracts indicators of compromise from free text, sends them to
the lookup services enabled on your profile and keeps the ranked results plus a
persisted search history.

Features:
- Hash, address, e-mail, URL, domain and file indicator extraction
- Concurrent lookups against the configured remote endpoint
- Terminal UI with live status, history and CSV export
- Folder and HTTP intake for unattended searches
- SQLite or Redis persistence and a Redis Streams results feed`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ioc-console.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/ioc-console.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL (empty disables Redis)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "./logs/ioc-console.log", "Log file used while the TUI owns the terminal")
	rootCmd.PersistentFlags().BoolVar(&allCapable, "all-capable", false, "Search every capable catalog service instead of only the enabled ones")

	// Bind flags to viper
	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("dispatch.all_capable", rootCmd.PersistentFlags().Lookup("all-capable"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".ioc-console" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ioc-console")
	}

	// IOC_CONSOLE_REDIS_URL overrides redis.url and so on.
	viper.SetEnvPrefix("IOC_CONSOLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("store.path", "./data/ioc-console.db")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "./logs/ioc-console.log")
	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("api.insecure", false)
	viper.SetDefault("dispatch.all_capable", false)
	viper.SetDefault("dispatch.max_jobs", 0)
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		Store: StoreConfig{
			Path: viper.GetString("store.path"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
			File:  viper.GetString("log.file"),
		},
		API: APIConfig{
			Timeout:  viper.GetDuration("api.timeout"),
			Insecure: viper.GetBool("api.insecure"),
		},
		Dispatch: DispatchConfig{
			AllCapable: viper.GetBool("dispatch.all_capable"),
			MaxJobs:    viper.GetInt("dispatch.max_jobs"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	API      APIConfig      `mapstructure:"api"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type APIConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Insecure bool          `mapstructure:"insecure"`
}

type DispatchConfig struct {
	AllCapable bool `mapstructure:"all_capable"`
	MaxJobs    int  `mapstructure:"max_jobs"`
}
