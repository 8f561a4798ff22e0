package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/studycord/studybot/studybot"
)

var (
	cfg        = studybot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "studybot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		levelVar := &slog.LevelVar{}
		levelVar.Set(lvl)
		return levelVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", studybot.DefaultDatabase)
	viper.SetDefault("database_type", studybot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		studybot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		studybot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", studybot.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", studybot.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", studybot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", studybot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.command_prefix", studybot.DefaultCommandPrefix)
	viper.SetDefault("discord.staff_channel_id", "")
	viper.SetDefault("discord.study_channel_id", "")
	viper.SetDefault("discord.doubt_cooldown", studybot.DefaultDoubtCooldown)
	viper.SetDefault(
		"discord.sweep_deletes_per_second",
		studybot.DefaultSweepDeletesPerSecond,
	)
	viper.SetDefault(
		"discord.custom_status",
		studybot.DefaultDiscordCustomStatus,
	)
	viper.SetDefault(
		"discord.log_level",
		studybot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		studybot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		studybot.DefaultDiscordGatewayIntent,
	)

	// API config
	viper.SetDefault("api.listen", studybot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.read_timeout", studybot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		studybot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", studybot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", studybot.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		studybot.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		studybot.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		studybot.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", studybot.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		studybot.DefaultCORSAllowCredentials,
	)

	envPrefix := os.Getenv(studybot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = studybot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.log_level"))
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.discordgo_log_level"))
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("database_log_level"))
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
