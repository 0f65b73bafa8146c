package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/config"
	"github.com/go-i2p/go-activecard/lib/keys"
	"github.com/go-i2p/go-activecard/lib/peerstore"
	"github.com/go-i2p/go-activecard/lib/simulator"
	"github.com/go-i2p/go-activecard/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "activecard",
		Short:         "Active card link protocol tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig()
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-activecard/config.yaml)")
	root.PersistentFlags().String("identity-file", "", "identity key file")
	root.PersistentFlags().String("device-id", "", "device name")
	viper.BindPFlag(config.KeyIdentityFile, root.PersistentFlags().Lookup("identity-file"))
	viper.BindPFlag(config.KeyDeviceID, root.PersistentFlags().Lookup("device-id"))

	root.AddCommand(newSimulateCmd(), newIdentityCmd())
	return root
}

func newSimulateCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a mobile and a simulated card over an in-memory link",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.CurrentConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, cmd, cfg, group)
		},
	}
	cmd.Flags().StringVar(&group, "group", "simulated-group", "MPC group id for the keygen round")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on host:port/metrics")
	viper.BindPFlag(config.KeyMetricsAddr, cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func runSimulate(ctx context.Context, cmd *cobra.Command, cfg *config.Config, group string) error {
	var closers util.Closers
	defer func() {
		if err := closers.Close(); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	if cfg.MetricsAddr != "" {
		srv, addr, err := startMetrics(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		closers.Register(srv)
		log.WithField("addr", addr.String()).Info("serving metrics on /metrics")
	}

	card, err := keys.LoadOrCreate(cfg.IdentityFile, cfg.DeviceID)
	if err != nil {
		return err
	}
	peers, err := peerstore.New(cfg.PeerDB)
	if err != nil {
		return err
	}
	closers.Register(peers)

	log.WithFields(logger.Fields{
		"at":       "runSimulate",
		"identity": card.Path(),
		"peer_db":  cfg.PeerDB,
	}).Debug("starting simulation")

	report, err := simulator.Run(ctx, simulator.Options{
		Config:  cfg,
		Card:    card.KeyPair(),
		Peers:   peers,
		GroupID: group,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "device:         %s\n", report.DeviceID)
	fmt.Fprintf(out, "card key:       %s\n", report.CardFingerprint)
	fmt.Fprintf(out, "mobile key:     %s\n", report.MobileFingerprint)
	fmt.Fprintf(out, "shared secret:  %s (match=%t)\n", report.SecretFingerprint, report.SecretsMatch)
	fmt.Fprintf(out, "paired:         %t\n", report.Paired)
	for _, r := range report.Rounds {
		fmt.Fprintf(out, "round:          %s %q\n", r.GroupID, r.Payload)
	}
	for _, s := range report.Sessions {
		fmt.Fprintf(out, "session:        %s %s\n", s.GroupID, s.Phase)
	}
	fmt.Fprintf(out, "known peers:    %v\n", peers.List())
	return nil
}

// startMetrics serves the bus counters on addr until the returned server is
// closed.
func startMetrics(addr string) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, oops.Wrapf(err, "metrics listener %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", bus.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	return srv, ln.Addr(), nil
}

func newIdentityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Create or show the device identity key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString(config.KeyIdentityFile)
			existed := util.FileExists(path)
			ks, err := keys.LoadOrCreate(path, viper.GetString(config.KeyDeviceID))
			if err != nil {
				return err
			}
			state := "loaded"
			if !existed {
				state = "created"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", state, ks.Path())
			fmt.Fprintf(out, "key id:       %s\n", ks.KeyID())
			fmt.Fprintf(out, "fingerprint:  %s\n", keys.Fingerprint(ks.KeyPair().Public))
			return nil
		},
	}
}
