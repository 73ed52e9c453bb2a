// Command ibox-relay runs the WebSocket relay that bridges ibox realms
// across processes: broadcast bus frames between members, spliced port
// legs for dedicated channels.
//
// Flags override environment variables with the IBOX_RELAY prefix:
//
//	ibox-relay --listen :7373 --allow-origin https://host.example
//	IBOX_RELAY_LISTEN=:9000 IBOX_RELAY_LOG_FORMAT=json ibox-relay
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/ibox/relay"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "ibox-relay",
		Short:         "WebSocket relay bridging ibox realms across processes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", relay.DefaultListenAddr, "TCP listen address (host:port)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")
	flags.Duration("claim-ttl", relay.DefaultClaimTTL, "how long an unpaired port leg may stay parked")
	flags.Float64("rate", relay.DefaultBusRate, "per-member bus frames per second (0 disables)")
	flags.StringSlice("allow-origin", nil, "origin allowed to join the bus (repeatable; empty allows all)")

	v.SetEnvPrefix("ibox_relay")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	logger, err := buildLogger(v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return err
	}

	busRate := v.GetFloat64("rate")
	srv := relay.NewServer(
		relay.WithListenAddr(v.GetString("listen")),
		relay.WithLogger(logger),
		relay.WithClaimTTL(v.GetDuration("claim-ttl")),
		relay.WithRate(busRate, int(2*busRate)),
		relay.WithAllowedOrigins(v.GetStringSlice("allow-origin")...),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
}
