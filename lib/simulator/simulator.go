// Package simulator runs a mobile and a card over an in-memory link: the
// authentication handshake, key exchange, user association and one echo
// keygen round.
package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-i2p/go-activecard/lib/activecard"
	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/config"
	"github.com/go-i2p/go-activecard/lib/envelope"
	"github.com/go-i2p/go-activecard/lib/keys"
	"github.com/go-i2p/go-activecard/lib/mpc"
	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/go-i2p/go-activecard/lib/transport"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// Options configures a simulated session.
type Options struct {
	Config *config.Config
	// Card is the simulated card's identity.
	Card signer.KeyPair
	// Mobile is the simulated phone's identity; generated when empty.
	Mobile signer.KeyPair
	// Peers receives the mobile key on the card side. May be nil.
	Peers activecard.PeerStore
	// GroupID names the keygen group.
	GroupID string
	// UserID is the opaque user identity blob associated with the card.
	UserID []byte
	// Timeout bounds each phase; zero means one minute.
	Timeout time.Duration
}

// Report summarises a completed simulation.
type Report struct {
	DeviceID          string
	MobileFingerprint string
	CardFingerprint   string
	SecretFingerprint string
	SecretsMatch      bool
	Paired            bool
	Rounds            []mpc.RoundMessage
	Sessions          []mpc.GroupSession
}

type roundCollector struct {
	mu     sync.Mutex
	rounds []mpc.RoundMessage
	failed error
	notify chan struct{}
}

func newRoundCollector() *roundCollector {
	return &roundCollector{notify: make(chan struct{}, 16)}
}

func (r *roundCollector) RoundMessage(m mpc.RoundMessage) {
	r.mu.Lock()
	r.rounds = append(r.rounds, m)
	r.mu.Unlock()
	r.signal()
}

func (r *roundCollector) JobFailed(groupID, code, message string) {
	r.mu.Lock()
	r.failed = oops.Errorf("group %s failed: %s %s", groupID, code, message)
	r.mu.Unlock()
	r.signal()
}

func (r *roundCollector) JobAborted(groupID, reason string) {
	r.mu.Lock()
	r.failed = oops.Errorf("group %s aborted: %s", groupID, reason)
	r.mu.Unlock()
	r.signal()
}

func (r *roundCollector) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *roundCollector) snapshot() ([]mpc.RoundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mpc.RoundMessage(nil), r.rounds...), r.failed
}

// wait blocks until n rounds arrived, the job failed or ctx ended.
func (r *roundCollector) wait(ctx context.Context, n int) ([]mpc.RoundMessage, error) {
	for {
		rounds, err := r.snapshot()
		if err != nil {
			return rounds, err
		}
		if len(rounds) >= n {
			return rounds, nil
		}
		select {
		case <-r.notify:
		case <-ctx.Done():
			return rounds, oops.Wrapf(ctx.Err(), "waiting for %d rounds, got %d", n, len(rounds))
		}
	}
}

func busConfig(cfg *config.Config) (bus.Config, error) {
	env, err := envelope.New(cfg.SymmetricKey)
	if err != nil {
		return bus.Config{}, err
	}
	bc := bus.DefaultConfig()
	bc.PacketLimit = cfg.PacketLimit
	bc.WriteTimeout = cfg.WriteTimeout
	bc.PacketInterval = cfg.PacketInterval
	bc.Envelope = env
	return bc, nil
}

// Run drives one full session and returns its report. Each side gets its own
// envelope built from the configured symmetric key.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Config == nil {
		return nil, oops.Errorf("simulator: no configuration")
	}
	if len(opts.Card.Private) == 0 {
		return nil, oops.Errorf("simulator: no card identity")
	}
	if len(opts.Mobile.Private) == 0 {
		kp, err := signer.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		opts.Mobile = kp
	}
	if opts.GroupID == "" {
		opts.GroupID = "simulated-group"
	}
	if opts.UserID == nil {
		opts.UserID = []byte(opts.Config.DeviceID)
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	cfg := opts.Config

	cardBus, err := busConfig(cfg)
	if err != nil {
		return nil, err
	}
	mobileBus, err := busConfig(cfg)
	if err != nil {
		return nil, err
	}

	mobileLink, cardLink := transport.Pipe()
	links := transport.NewRegistry()
	links.Register(cfg.DeviceID, mobileLink)
	defer links.CloseAll()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	report := &Report{
		DeviceID:          cfg.DeviceID,
		MobileFingerprint: keys.Fingerprint(opts.Mobile.Public),
		CardFingerprint:   keys.Fingerprint(opts.Card.Public),
	}

	var mu sync.Mutex
	var cardSecret []byte
	engine := mpc.NewEchoEngine(16)
	srv, err := activecard.NewServer(cardLink, activecard.ServerConfig{
		Bus:         cardBus,
		Identity:    opts.Card,
		Source:      "card",
		Mutual:      cfg.MutualAuth,
		SettleDelay: cfg.SettleDelay,
		Peers:       opts.Peers,
		Engine:      engine,
		OnSharedSecret: func(s []byte) {
			mu.Lock()
			cardSecret = s
			mu.Unlock()
		},
		OnPairingFailed: func(err error) {
			log.WithError(err).Warn("card rejected user association")
		},
	})
	if err != nil {
		return nil, err
	}

	link, ok := links.Lookup(cfg.DeviceID)
	if !ok {
		return nil, oops.Errorf("simulator: link %q not registered", cfg.DeviceID)
	}
	cli, err := activecard.NewClient(link, activecard.ClientConfig{
		Bus:           mobileBus,
		Identity:      opts.Mobile,
		CardPublicKey: opts.Card.Public,
		Source:        "mobile",
		StartupDelay:  cfg.StartupDelay,
		Mutual:        cfg.MutualAuth,
	})
	if err != nil {
		return nil, err
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()
	go cli.Run(ctx)

	log.WithFields(logger.Fields{
		"at":     "Run",
		"device": cfg.DeviceID,
		"mutual": cfg.MutualAuth,
	}).Info("starting simulated session")

	secret, err := cli.Connect(ctx)
	if err != nil {
		return nil, oops.Wrapf(err, "connecting to simulated card")
	}
	report.SecretFingerprint = keys.Fingerprint(secret)

	report.Paired, err = cli.Associate(ctx, opts.UserID)
	if err != nil {
		return nil, oops.Wrapf(err, "associating user")
	}

	sink := newRoundCollector()
	go cli.MPC().Run(ctx, sink)
	if err := cli.MPC().InitMnemonicKeygen(ctx, opts.GroupID, 1); err != nil {
		return nil, err
	}
	if err := cli.MPC().SendExchangeMessage(ctx, opts.GroupID, []byte("mobile-round-1")); err != nil {
		return nil, err
	}
	report.Rounds, err = sink.wait(ctx, 2)
	if err != nil {
		return nil, oops.Wrapf(err, "keygen round")
	}
	report.Sessions = srv.Relay().Sessions()

	mu.Lock()
	report.SecretsMatch = string(cardSecret) == string(secret)
	mu.Unlock()

	cancel()
	if err := <-srvErr; err != nil && !errors.Is(err, context.Canceled) {
		return report, oops.Wrapf(err, "card shutdown")
	}
	log.WithFields(logger.Fields{
		"at":     "Run",
		"paired": report.Paired,
		"rounds": len(report.Rounds),
	}).Info("simulated session finished")
	return report, nil
}
