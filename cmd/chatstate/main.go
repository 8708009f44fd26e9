package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/chatstate/pkg/config"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "chatstate",
	Short: "chatstate drives conversations through the reconciliation engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger now that the flags are parsed
		return initLogger()
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger() error {
	return InitLogger(&logConfig{
		Level:      viper.GetString("log-level"),
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}
	// default is json
	var logWriter io.Writer
	if config.LogFormat == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, //days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return err
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix("chatstate")
	config.SetDefaults(viper.GetViper())

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.chatstate")
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(xdgConfigPath + "/chatstate")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}
	for flag, key := range map[string]string{
		"strategy":             "strategy",
		"transport":            "transport.type",
		"endpoint":             "transport.endpoint",
		"echo-delay":           "transport.echo-delay",
		"allow-http":           "transport.allow-http",
		"allow-local-networks": "transport.allow-local-networks",
		"store":                "store.type",
		"db":                   "store.path",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// logging flags
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./config.yaml or ~/.chatstate/config.yaml)")

	// session flags
	rootCmd.PersistentFlags().String("strategy", "", "Reconciliation strategy (manual, delegated)")
	rootCmd.PersistentFlags().String("transport", "", "Transport (echo, http)")
	rootCmd.PersistentFlags().String("endpoint", "", "Chat endpoint of the http transport")
	rootCmd.PersistentFlags().Duration("echo-delay", 0, "Time the echo transport takes per character")
	rootCmd.PersistentFlags().Bool("allow-http", false, "Allow a plain http endpoint")
	rootCmd.PersistentFlags().Bool("allow-local-networks", false, "Allow an endpoint on localhost or a private network")
	rootCmd.PersistentFlags().String("store", "", "Transcript store (memory, sqlite)")
	rootCmd.PersistentFlags().String("db", "", "Path of the sqlite transcript store")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}
	cobra.CheckErr(initConfig(configFile))

	rootCmd.AddCommand(newPlayCommand())
	historyCmd, err := NewHistoryCommand()
	cobra.CheckErr(err)
	historyCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(historyCmd)
	cobra.CheckErr(err)
	rootCmd.AddCommand(historyCobraCmd)
	rootCmd.AddCommand(newSchemaCommand())
}
