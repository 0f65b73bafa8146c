package mpc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-i2p/go-activecard/lib/bus"
	"github.com/go-i2p/go-activecard/lib/event"
	"github.com/go-i2p/go-activecard/lib/frame"
	"github.com/go-i2p/go-activecard/lib/payload"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// DefaultSettleDelay separates a job start from its first round input.
const DefaultSettleDelay = 200 * time.Millisecond

// RelayConfig tunes a Relay.
type RelayConfig struct {
	// SettleDelay is waited before the first round input of a fresh job, so the
	// engine has registered the new party before peer data reaches it.
	SettleDelay time.Duration
}

type group struct {
	session     GroupSession
	cancel      context.CancelFunc
	settleUntil time.Time
	settled     bool
}

// Relay is the card-side router between the link and an Engine.
type Relay struct {
	ep     bus.Endpoint
	engine Engine
	cfg    RelayConfig

	mu      sync.Mutex
	groups  map[string]*group
	nextJob uint64
}

// NewRelay returns a Relay over ep driving engine.
func NewRelay(ep bus.Endpoint, engine Engine, cfg RelayConfig) *Relay {
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Relay{
		ep:     ep,
		engine: engine,
		cfg:    cfg,
		groups: make(map[string]*group),
	}
}

var relayEvents = []event.ID{
	event.KgRoundBroadcast,
	event.KgInitMnemonicKeygen,
	event.KgInitPaillier,
	event.KgStoreExternalPartyIdentityPubkey,
	event.KgStoreGroupPartyData,
	event.KgStorePartyIdentityPrivateKey,
	event.KgSendExchangeMessage,
	event.KgError,
	event.KgAbort,
	event.KgInitSigningProcess,
}

// Run routes relay events until ctx ends or the link drops. All running jobs are
// cancelled on return.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.ep.Subscribe(relayEvents...)
	defer sub.Close()

	fwdCtx, stopFwd := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.forward(fwdCtx)
	}()
	defer func() {
		stopFwd()
		wg.Wait()
		r.cancelAll()
	}()

	for {
		m, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.dispatch(ctx, m)
	}
}

// forward broadcasts engine output over the link.
func (r *Relay) forward(ctx context.Context) {
	out := r.engine.Outbound()
	for {
		select {
		case <-ctx.Done():
			return
		case rm, ok := <-out:
			if !ok {
				return
			}
			msg := &payload.ExchangeMessage{GroupID: rm.GroupID, Msg: rm.Payload}
			if err := bus.SendPayload(ctx, r.ep, event.KgRoundBroadcast, msg); err != nil {
				log.WithFields(logger.Fields{
					"at":       "(Relay) forward",
					"group_id": rm.GroupID,
					"error":    err.Error(),
				}).Warn("failed to broadcast engine round message")
			}
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, m *frame.Message) {
	var (
		groupID string
		err     error
	)
	switch m.EventID {
	case event.KgInitMnemonicKeygen:
		var req payload.InitiateMnemonicKeyGen
		if err = req.UnmarshalBinary(m.Contents); err == nil {
			groupID = req.GroupID
			err = r.startJob(ctx, groupID, Keygen, func(jobCtx context.Context) error {
				return r.engine.StartKeygen(jobCtx, req.GroupID, req.SecretNumber)
			})
		}
	case event.KgInitPaillier:
		var req payload.InitiatePaillierKeyGen
		if err = req.UnmarshalBinary(m.Contents); err == nil {
			groupID = req.GroupID
			err = r.startJob(ctx, groupID, Paillier, func(jobCtx context.Context) error {
				return r.engine.StartPaillier(jobCtx, req.GroupID)
			})
		}
	case event.KgInitSigningProcess:
		var req payload.SigningRequest
		if err = req.UnmarshalBinary(m.Contents); err == nil {
			groupID = req.GroupID
			sr := SigningRequest{
				GroupID:        req.GroupID,
				RequestID:      req.RequestID,
				Message:        req.Message,
				DerivationPath: req.DerivationPath,
			}
			err = r.startJob(ctx, groupID, Signing, func(jobCtx context.Context) error {
				return r.engine.StartSigning(jobCtx, sr)
			})
		}
	case event.KgStoreExternalPartyIdentityPubkey:
		groupID, err = r.store(m.Contents, r.engine.StoreExternalIdentityPubKey)
	case event.KgStoreGroupPartyData:
		groupID, err = r.store(m.Contents, r.engine.StoreGroupData)
	case event.KgStorePartyIdentityPrivateKey:
		groupID, err = r.store(m.Contents, r.engine.StoreIdentityPrivateKey)
	case event.KgRoundBroadcast, event.KgSendExchangeMessage:
		var msg payload.ExchangeMessage
		if err = msg.UnmarshalBinary(m.Contents); err == nil {
			groupID = msg.GroupID
			err = r.input(ctx, msg.GroupID, msg.Msg)
		}
	case event.KgError:
		var ke payload.KeygenError
		if err = ke.UnmarshalBinary(m.Contents); err == nil {
			log.WithFields(logger.Fields{
				"at":       "(Relay) dispatch",
				"group_id": ke.GroupID,
				"code":     ke.Code,
				"message":  ke.Message,
			}).Warn("peer reported job failure")
			r.stopJob(ke.GroupID, Failed)
		}
	case event.KgAbort:
		var ka payload.KeygenAbort
		if err = ka.UnmarshalBinary(m.Contents); err == nil {
			log.WithFields(logger.Fields{
				"at":       "(Relay) dispatch",
				"group_id": ka.GroupID,
				"reason":   ka.Reason,
			}).Info("job aborted by peer")
			r.stopJob(ka.GroupID, Aborted)
		}
	}

	if err != nil {
		r.report(ctx, m.EventID, groupID, err)
	}
}

func (r *Relay) store(body []byte, call func(string, []byte) error) (string, error) {
	var gd payload.GroupData
	if err := gd.UnmarshalBinary(body); err != nil {
		return "", err
	}
	return gd.GroupID, call(gd.GroupID, gd.Data)
}

func (r *Relay) startJob(ctx context.Context, groupID string, phase Phase, start func(context.Context) error) error {
	jobCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	g := r.groupLocked(groupID)
	replaced := g.cancel != nil
	if replaced {
		g.cancel()
	}
	r.nextJob++
	now := time.Now()
	g.cancel = cancel
	g.session.Phase = phase
	g.session.Job = r.nextJob
	g.session.Started = now
	g.session.Inputs = 0
	g.settleUntil = now.Add(r.cfg.SettleDelay)
	g.settled = false
	job := g.session.Job
	r.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":       "(Relay) startJob",
		"group_id": groupID,
		"phase":    phase.String(),
		"job":      job,
		"replaced": replaced,
	}).Debug("starting job")

	if err := start(jobCtx); err != nil {
		r.stopJob(groupID, Failed)
		return oops.Wrapf(err, "starting %s job", phase)
	}
	return nil
}

func (r *Relay) input(ctx context.Context, groupID string, data []byte) error {
	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok || !g.session.Phase.Running() {
		r.mu.Unlock()
		return oops.Wrapf(ErrNoJob, "group %q", groupID)
	}
	wait := time.Duration(0)
	if !g.settled {
		wait = time.Until(g.settleUntil)
		g.settled = true
	}
	r.mu.Unlock()

	if wait > 0 {
		log.WithFields(logger.Fields{
			"at":       "(Relay) input",
			"group_id": groupID,
			"wait":     wait,
		}).Debug("holding first round input until the job settles")
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	if err := r.engine.InputRoundMessage(groupID, data); err != nil {
		return err
	}
	r.mu.Lock()
	if g, ok := r.groups[groupID]; ok {
		g.session.Inputs++
	}
	r.mu.Unlock()
	return nil
}

func (r *Relay) stopJob(groupID string, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groupLocked(groupID)
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.session.Phase = phase
}

func (r *Relay) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.cancel != nil {
			g.cancel()
			g.cancel = nil
			g.session.Phase = Aborted
		}
	}
}

func (r *Relay) groupLocked(groupID string) *group {
	g, ok := r.groups[groupID]
	if !ok {
		g = &group{session: GroupSession{GroupID: groupID}}
		r.groups[groupID] = g
	}
	return g
}

// report sends a KgError for a failed relay step. The relay keeps serving.
func (r *Relay) report(ctx context.Context, id event.ID, groupID string, err error) {
	log.WithFields(logger.Fields{
		"at":       "(Relay) report",
		"event":    event.Name(id),
		"group_id": groupID,
		"error":    err.Error(),
	}).Error("relay step failed")
	ke := &payload.KeygenError{GroupID: groupID, Code: CodeEngineFailed, Message: err.Error()}
	if sendErr := bus.SendPayload(ctx, r.ep, event.KgError, ke); sendErr != nil {
		log.WithError(sendErr).Warn("could not report relay failure to peer")
	}
}

// Sessions returns a snapshot of all known groups, ordered by group id.
func (r *Relay) Sessions() []GroupSession {
	r.mu.Lock()
	out := make([]GroupSession, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.session)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// Session returns the state of one group.
func (r *Relay) Session(groupID string) (GroupSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return GroupSession{}, false
	}
	return g.session, true
}
