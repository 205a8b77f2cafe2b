package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/Thejuampi/pubnub-client-go/pubnub"
)

// cli carries the state shared by every subcommand.
type cli struct {
	viper      *viper.Viper
	baseLogger pslog.Logger
	logger     pslog.Logger
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	if baseLogger == nil {
		baseLogger = pslog.NoopLogger()
	}
	state := &cli{viper: viper.New(), baseLogger: baseLogger, logger: baseLogger}

	cmd := &cobra.Command{
		Use:           "pubnub",
		Short:         "Publish, subscribe and inspect PubNub channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := state.loadConfigFile(); err != nil {
				return err
			}
			logger, err := state.resolveLogger()
			if err != nil {
				return err
			}
			state.logger = logger
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML config file with flag values")
	flags.String("subscribe-key", "", "subscribe key")
	flags.String("publish-key", "", "publish key")
	flags.String("secret-key", "", "secret key used to sign requests")
	flags.String("cipher-key", "", "cipher key for payload encryption")
	flags.String("auth-key", "", "access manager auth key")
	flags.String("uuid", "", "client uuid (default pn-<random>)")
	flags.String("origin", "", "single origin host (disables rotation)")
	flags.StringSlice("origins", nil, "candidate origin hosts in failover order")
	flags.Bool("secure", true, "use https")
	flags.Bool("cache-busting", false, "rotate across cache-busting origins")
	flags.Duration("timeout", pubnub.DefaultNonSubscribeRequestTimeout, "timeout for non-subscribe requests")
	flags.Int("failover-threshold", pubnub.DefaultFailoverThreshold, "consecutive poll failures before switching origin")
	flags.String("reconnection-policy", pubnub.ReconnectionPolicyExponential.String(), "reconnection policy (none, linear, exponential)")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error, none); default from PUBNUB_LOG_LEVEL")
	state.bindFlags(flags)

	cmd.AddCommand(
		newPublishCommand(state, false),
		newPublishCommand(state, true),
		newSubscribeCommand(state),
		newTimeCommand(state),
		newEncryptCommand(state),
		newDecryptCommand(state),
		newVersionCommand(),
	)
	return cmd
}

func (state *cli) bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := state.viper.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})
	state.viper.SetEnvPrefix("PUBNUB")
	state.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	state.viper.AutomaticEnv()
}

func (state *cli) loadConfigFile() (string, error) {
	path := strings.TrimSpace(state.viper.GetString("config"))
	if path == "" {
		return "", nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", path, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	state.viper.SetConfigFile(expanded)
	if err := state.viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(path) == 1 {
			path = home
		} else if path[1] == '/' || path[1] == '\\' {
			path = filepath.Join(home, path[2:])
		}
	}
	return filepath.Abs(path)
}

func (state *cli) resolveLogger() (pslog.Logger, error) {
	level := strings.TrimSpace(state.viper.GetString("log-level"))
	switch {
	case level == "":
		return state.baseLogger, nil
	case strings.EqualFold(level, "none"):
		return pslog.NoopLogger(), nil
	}
	parsed, ok := pslog.ParseLevel(level)
	if !ok {
		return nil, fmt.Errorf("log-level: invalid value %q", level)
	}
	return pslog.NewWithOptions(context.Background(), os.Stderr, pslog.Options{
		Mode:     pslog.ModeStructured,
		MinLevel: parsed,
	}).With("app", "pubnub"), nil
}

// configuration builds the client configuration from flags, env and file.
func (state *cli) configuration() (*pubnub.Configuration, error) {
	v := state.viper
	config := pubnub.NewConfiguration()
	config.SubscribeKey = v.GetString("subscribe-key")
	config.PublishKey = v.GetString("publish-key")
	config.SecretKey = v.GetString("secret-key")
	config.CipherKey = v.GetString("cipher-key")
	config.AuthKey = v.GetString("auth-key")
	if uuid := strings.TrimSpace(v.GetString("uuid")); uuid != "" {
		config.UUID = uuid
	}
	config.Origin = v.GetString("origin")
	config.Origins = v.GetStringSlice("origins")
	config.Secure = v.GetBool("secure")
	config.CacheBusting = v.GetBool("cache-busting")
	config.NonSubscribeRequestTimeout = v.GetDuration("timeout")
	config.FailoverThreshold = v.GetInt("failover-threshold")
	policy, err := pubnub.ParseReconnectionPolicy(v.GetString("reconnection-policy"))
	if err != nil {
		return nil, err
	}
	config.ReconnectionPolicy = policy
	return config, nil
}

func (state *cli) newClient(options ...pubnub.Option) (*pubnub.Client, error) {
	config, err := state.configuration()
	if err != nil {
		return nil, err
	}
	options = append([]pubnub.Option{pubnub.WithLogger(state.logger)}, options...)
	return pubnub.New(config, options...)
}

// timetokenTime converts a timetoken in 100ns units to wall time.
func timetokenTime(timetoken int64) time.Time {
	return time.Unix(0, timetoken*100)
}
