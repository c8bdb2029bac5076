// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/quorumnet/core/blskey"
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/identity"
	"github.com/quorumnet/core/metrics"
	"github.com/quorumnet/core/section"
	"github.com/quorumnet/core/utils/sampler"
	"github.com/quorumnet/core/wiremsg"
	"github.com/quorumnet/core/xorname"
)

// maxAERounds bounds how many anti-entropy corrections a single
// request will absorb before giving up; a well-behaved network
// resolves in one or two.
const maxAERounds = 5

// Session is the client's routing and dispatch engine: it owns the
// section tree, the per-peer link table, the chunk cache, and the
// identity used to sign writes, and turns a single logical request
// into a quorum RPC against the right elders.
type Session struct {
	treeMu sync.RWMutex
	tree   *section.Tree

	identity  identity.Keypair
	links     *LinkTable
	cache     *ChunkCache
	transport Transport
	config    Config
	log       log.Logger
	metrics   sessionMetrics

	// salt fixes the XOR-distance ordering AE retry remapping uses, so
	// the same original target index always remaps to the same
	// replacement elder across a session's lifetime.
	salt xorname.Name
}

// New creates a Session rooted at tree, authenticating writes as kp
// and dispatching every RPC through transport.
func New(kp identity.Keypair, tree *section.Tree, transport Transport, cfg Config) *Session {
	var salt xorname.Name
	_, _ = rand.Read(salt[:])
	return &Session{
		tree:      tree,
		identity:  kp,
		links:     NewLinkTable(),
		cache:     NewChunkCache(cfg.ChunksCacheSize),
		transport: transport,
		config:    cfg,
		log:       log.NewNoOpLogger(),
		metrics:   defaultSessionMetrics(),
		salt:      salt,
	}
}

// WithLogger sets s's logger, returning s for chaining.
func (s *Session) WithLogger(l log.Logger) *Session {
	s.log = l
	return s
}

// WithMetricsRegistry wires s's counters/averagers into reg, returning
// s for chaining.
func (s *Session) WithMetricsRegistry(reg metrics.Registry) *Session {
	s.metrics = registryMetrics(reg)
	return s
}

// Identity returns the keypair this session signs writes with.
func (s *Session) Identity() identity.Keypair { return s.identity }

// Tree returns the session's section tree.
func (s *Session) Tree() *section.Tree { return s.tree }

// peerSAP copies the SAP map into a sorted Peer slice, for deterministic
// fan-out ordering independent of Go's map iteration order.
func peerSAP(sap section.SAP) []Peer {
	out := make([]Peer, 0, len(sap.Elders))
	for id, name := range sap.Elders {
		out = append(out, Peer{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}

// sortedByDistance returns a copy of peers ordered by XOR distance
// from salt, closest first — the fixed ordering AE remapping indexes
// into.
func sortedByDistance(peers []Peer, salt xorname.Name) []Peer {
	out := append([]Peer(nil), peers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name.DistanceCmp(out[j].Name, salt) < 0 })
	return out
}

// queryTargets returns a randomly-sampled subset (size
// config.NumQueryElders) of the elders of the SAP closest to name,
// plus that SAP's section key.
func (s *Session) queryTargets(name xorname.Name) ([]Peer, blskey.SectionKey, error) {
	s.treeMu.RLock()
	sap, ok := s.tree.Closest(name, nil)
	s.treeMu.RUnlock()
	if !ok {
		return nil, blskey.SectionKey{}, corerr.New(corerr.KindNoNetworkKnowledge).WithPrefix(name.String())
	}
	all := peerSAP(sap)
	if len(all) == 0 {
		return nil, blskey.SectionKey{}, corerr.New(corerr.KindInsufficientElderKnowledge)
	}
	n := s.config.NumQueryElders
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	uni := sampler.NewUniform()
	if err := uni.Initialize(len(all)); err != nil {
		return nil, blskey.SectionKey{}, fmt.Errorf("session: init elder sampler: %w", err)
	}
	idx, ok := uni.Sample(n)
	if !ok {
		return nil, blskey.SectionKey{}, corerr.New(corerr.KindInsufficientElderKnowledge)
	}
	picked := make([]Peer, 0, len(idx))
	for _, i := range idx {
		picked = append(picked, all[i])
	}
	return picked, sap.SectionKey, nil
}

// commandTargets returns every elder of the SAP whose prefix best
// matches name, plus that SAP's section key. A command must reach a
// supermajority of elders to be binding, so the session refuses to
// dispatch if its local knowledge of the section is degenerate.
func (s *Session) commandTargets(name xorname.Name) ([]Peer, blskey.SectionKey, error) {
	s.treeMu.RLock()
	sap, err := s.tree.GetSignedByName(name)
	s.treeMu.RUnlock()
	if err != nil {
		return nil, blskey.SectionKey{}, err
	}
	if sap.ElderCount() == 0 || sap.ElderCount() < section.Supermajority(sap.ElderCount()) {
		return nil, blskey.SectionKey{}, corerr.New(corerr.KindInsufficientElderKnowledge)
	}
	return peerSAP(sap), sap.SectionKey, nil
}

// applyAE merges an anti-entropy update into the tree under the
// write lock.
func (s *Session) applyAE(u section.Update) error {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	_, err := s.tree.Update(u)
	return err
}

// remapRetry deterministically maps the target at sorted position pos
// (within the request's salt-ordered target list) to a replacement
// elder of the freshly-updated section: the new elder set is sorted
// by the same salt, and the replacement is whichever new elder sits
// at that same position (mod the new set's size).
func remapRetry(pos int, newElders []Peer, salt xorname.Name) (Peer, bool) {
	if len(newElders) == 0 {
		return Peer{}, false
	}
	newSorted := sortedByDistance(newElders, salt)
	return newSorted[pos%len(newSorted)], true
}

// remapRedirect picks the elder of newElders whose name is closest to
// name. Returns false if there is no candidate or the only candidate
// is the same peer that issued the redirect (no progress possible).
func remapRedirect(newElders []Peer, name xorname.Name, redirectedBy Peer) (Peer, bool) {
	if len(newElders) == 0 {
		return Peer{}, false
	}
	best := newElders[0]
	for _, p := range newElders[1:] {
		if p.Name.DistanceCmp(best.Name, name) < 0 {
			best = p
		}
	}
	if best.ID == redirectedBy.ID {
		return Peer{}, false
	}
	return best, true
}

// rpcRound fans msg (with a shared MsgID across all live targets) out
// to targets, returning each target's decoded response body or error.
// AE bodies are left for the caller to interpret rather than resolved
// here, since retry vs. redirect remapping needs request-shape context
// (query vs. command) the round itself doesn't have.
func (s *Session) rpcRound(ctx context.Context, targets []Peer, kind wiremsg.Kind, name xorname.Name, sectionKey blskey.SectionKey, msgID wiremsg.MsgID, body Body) ([]Body, []error) {
	payload, err := EncodeBody(body)
	if err != nil {
		errs := make([]error, len(targets))
		for i := range errs {
			errs[i] = err
		}
		return make([]Body, len(targets)), errs
	}

	type outcome struct {
		idx  int
		body Body
		err  error
	}
	results := make(chan outcome, len(targets))
	var wg sync.WaitGroup
	for i, peer := range targets {
		wg.Add(1)
		go func(i int, peer Peer) {
			defer wg.Done()
			msg := wiremsg.Message{
				MsgID:   msgID,
				Kind:    kind,
				Dst:     wiremsg.Dst{Name: name, SectionKey: sectionKey},
				Payload: payload,
			}
			respMsg, err := s.links.send(ctx, s.transport, peer.ID, msg)
			if err != nil {
				s.links.ForceNewLink(peer.ID)
				results <- outcome{idx: i, err: err}
				return
			}
			respBody, err := DecodeBody(respMsg.Payload)
			results <- outcome{idx: i, body: respBody, err: err}
		}(i, peer)
	}
	go func() { wg.Wait(); close(results) }()

	bodies := make([]Body, len(targets))
	errs := make([]error, len(targets))
	for o := range results {
		bodies[o.idx] = o.body
		errs[o.idx] = o.err
	}
	return bodies, errs
}

// doQuery executes a read-shaped RPC against name: it resolves query
// targets, dispatches, transparently resolves AE retry/redirect
// responses, and hands surviving bodies to aggregate. aggregate
// returns (result, true, nil) once it has enough evidence to decide,
// or (_, false, nil) to mean "not yet — wait for the next round" (there
// is no next round once AE stops firing, so this is treated the same
// as running out of rounds). It is a free function rather than a
// method because Go methods cannot carry their own type parameters.
func doQuery[T any](s *Session, ctx context.Context, name xorname.Name, body Body, aggregate func([]Body, int) (T, bool, error)) (T, error) {
	start := time.Now()
	defer func() { s.metrics.queryLatency.Observe(float64(time.Since(start).Milliseconds())) }()

	if s.config.QueryTimeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *s.config.QueryTimeout)
		defer cancel()
	}

	var zero T
	msgID := wiremsg.NewMsgID()
	targets, sectionKey, err := s.queryTargets(name)
	if err != nil {
		return zero, err
	}
	targetCount := len(targets)

	var collected []Body
	for round := 0; round < maxAERounds; round++ {
		sortedTargets := sortedByDistance(targets, s.salt)
		bodies, errs := s.rpcRound(ctx, sortedTargets, wiremsg.KindClient, name, sectionKey, msgID, body)

		var aeNext []Peer
		for i, b := range bodies {
			if errs[i] != nil {
				continue
			}
			switch b.Type {
			case TypeAERetry:
				upd, uerr := section.DecodeUpdate(b.AERetry.UpdateBytes)
				if uerr != nil {
					continue
				}
				if err := s.applyAE(upd); err != nil {
					continue
				}
				s.metrics.aeRetries.Inc()
				newSAP, serr := s.sapForName(name)
				if serr != nil {
					continue
				}
				if replacement, ok := remapRetry(i, peerSAP(newSAP), s.salt); ok {
					aeNext = append(aeNext, replacement)
					sectionKey = newSAP.SectionKey
				}
			case TypeAERedirect:
				upd, uerr := section.DecodeUpdate(b.AERedirect.UpdateBytes)
				if uerr != nil {
					continue
				}
				if err := s.applyAE(upd); err != nil {
					continue
				}
				s.metrics.aeRedirects.Inc()
				newSAP, serr := s.sapForName(name)
				if serr != nil {
					continue
				}
				if replacement, ok := remapRedirect(peerSAP(newSAP), name, sortedTargets[i]); ok {
					aeNext = append(aeNext, replacement)
					sectionKey = newSAP.SectionKey
				} else {
					return zero, corerr.New(corerr.KindAntiEntropyNoSapElders)
				}
			default:
				collected = append(collected, b)
			}
		}

		if len(aeNext) > 0 {
			targets = aeNext
			continue
		}

		resp, done, err := aggregate(collected, targetCount)
		if err != nil {
			return zero, err
		}
		if done {
			return resp, nil
		}
		return zero, corerr.New(corerr.KindNoResponse)
	}
	return zero, corerr.New(corerr.KindNoResponse)
}

// doCommand executes a write-shaped RPC against every elder of name's
// section, transparently resolving AE, and succeeds once a
// supermajority of the original target count has acknowledged.
func (s *Session) doCommand(ctx context.Context, name xorname.Name, body Body) error {
	start := time.Now()
	defer func() { s.metrics.cmdLatency.Observe(float64(time.Since(start).Milliseconds())) }()

	msgID := wiremsg.NewMsgID()
	targets, sectionKey, err := s.commandTargets(name)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return corerr.New(corerr.KindInsufficientElderKnowledge)
	}
	required := section.Supermajority(len(targets))

	acks := 0
	var lastErrKind string
	errCount := 0

	for round := 0; round < maxAERounds; round++ {
		sortedTargets := sortedByDistance(targets, s.salt)
		bodies, errs := s.rpcRound(ctx, sortedTargets, wiremsg.KindClient, name, sectionKey, msgID, body)

		var aeNext []Peer
		for i, b := range bodies {
			if errs[i] != nil {
				continue
			}
			switch b.Type {
			case TypeCmdAck:
				acks++
			case TypeCmdError:
				errCount++
				lastErrKind = b.CmdError.Kind
			case TypeAERetry:
				upd, uerr := section.DecodeUpdate(b.AERetry.UpdateBytes)
				if uerr != nil {
					continue
				}
				if err := s.applyAE(upd); err != nil {
					continue
				}
				s.metrics.aeRetries.Inc()
				newSAP, serr := s.sapForName(name)
				if serr != nil {
					continue
				}
				if replacement, ok := remapRetry(i, peerSAP(newSAP), s.salt); ok {
					aeNext = append(aeNext, replacement)
					sectionKey = newSAP.SectionKey
				}
			case TypeAERedirect:
				upd, uerr := section.DecodeUpdate(b.AERedirect.UpdateBytes)
				if uerr != nil {
					continue
				}
				if err := s.applyAE(upd); err != nil {
					continue
				}
				s.metrics.aeRedirects.Inc()
				newSAP, serr := s.sapForName(name)
				if serr != nil {
					continue
				}
				if replacement, ok := remapRedirect(peerSAP(newSAP), name, sortedTargets[i]); ok {
					aeNext = append(aeNext, replacement)
					sectionKey = newSAP.SectionKey
				} else {
					return corerr.New(corerr.KindAntiEntropyNoSapElders)
				}
			}
		}

		if acks >= required {
			return nil
		}
		if len(aeNext) == 0 {
			break
		}
		targets = aeNext
	}

	if errCount >= required {
		return corerr.Wrap(corerr.KindCmdError, fmt.Errorf("remote kind: %s", lastErrKind))
	}
	return corerr.New(corerr.KindInsufficientAcksReceived).WithCounts(required, acks)
}

func (s *Session) sapForName(name xorname.Name) (section.SAP, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	sap, ok := s.tree.Closest(name, nil)
	if !ok {
		return section.SAP{}, corerr.New(corerr.KindNoNetworkKnowledge)
	}
	return sap, nil
}
