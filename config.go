/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/cantina/internal/client"
	"github.com/Seednode/cantina/internal/server"
)

const envPrefix = "CANTINA"

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cantina",
		Short:         "A shared online diner: the game server and a headless client.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
	}

	cmd.AddCommand(newServeCmd(&server.Config{Release: releaseVersion}))
	cmd.AddCommand(newClientCmd(&client.Config{}))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("cantina v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newServeCmd(cfg *server.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runServer(cmd.Context(), cfg, newLogger(cfg.Verbose))
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: CANTINA_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 7878, "port to listen on (env: CANTINA_PORT)")
	fs.StringVar(&cfg.Prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CANTINA_PREFIX)")
	fs.StringVar(&cfg.BaseURL, "base-url", "http://localhost:7878", "externally reachable URL of this server, used for login callbacks (env: CANTINA_BASE_URL)")
	fs.StringVar(&cfg.OAuthClientID, "oauth-client-id", "", "itch.io OAuth application id (env: CANTINA_OAUTH_CLIENT_ID)")
	fs.StringVar(&cfg.StateSecret, "state-secret", "", "secret used to sign login links, random if empty (env: CANTINA_STATE_SECRET)")
	fs.StringVar(&cfg.Database, "database", "cantina.db", "sqlite file or postgres:// URL (env: CANTINA_DATABASE)")
	fs.StringVar(&cfg.RedisURL, "redis-url", "", "redis URL for login notifications between servers, in-process if empty (env: CANTINA_REDIS_URL)")
	fs.DurationVar(&cfg.TickInterval, "tick-interval", 100*time.Millisecond, "time between world updates (env: CANTINA_TICK_INTERVAL)")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", time.Second, "time between clock pings (env: CANTINA_PING_INTERVAL)")
	fs.BoolVar(&cfg.Profile, "profile", false, "register net/http/pprof handlers (env: CANTINA_PROFILE)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to tls certificate (env: CANTINA_TLS_CERT)")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to tls keyfile (env: CANTINA_TLS_KEY)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: CANTINA_VERBOSE)")

	bindEnv(fs)

	return cmd
}

func newClientCmd(cfg *client.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a server and walk around without a window.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			return client.Run(cmd.Context(), cfg, newLogger(cfg.Verbose))
		},
	}

	fs := cmd.Flags()

	fs.StringVarP(&cfg.ServerURL, "server-url", "s", "ws://localhost:7878", "server to connect to (env: CANTINA_SERVER_URL)")
	fs.StringVar(&cfg.ConfigFile, "config-file", client.DefaultUserConfigPath(), "where the installation id is kept (env: CANTINA_CONFIG_FILE)")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", 100*time.Millisecond, "time to wait between connection attempts (env: CANTINA_RECONNECT_DELAY)")
	fs.Float64Var(&cfg.UpdateRate, "update-rate", 10, "position updates sent per second (env: CANTINA_UPDATE_RATE)")
	fs.IntVar(&cfg.FrameRate, "frame-rate", 60, "frames simulated per second (env: CANTINA_FRAME_RATE)")
	fs.Float64Var(&cfg.Input, "input", 0, "constant horizontal input, -1 to 1 (env: CANTINA_INPUT)")
	fs.BoolVar(&cfg.Login, "login", false, "ask for a login link once connected (env: CANTINA_LOGIN)")
	fs.BoolVar(&cfg.OpenBrowser, "open-browser", false, "open login links in the default browser (env: CANTINA_OPEN_BROWSER)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: CANTINA_VERBOSE)")

	bindEnv(fs)

	return cmd
}

// bindEnv fills in every flag not given on the command line from its
// CANTINA_ environment variable.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
