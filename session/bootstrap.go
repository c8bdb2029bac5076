// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/quorumnet/core/corerr"
	"github.com/quorumnet/core/section"
	"github.com/quorumnet/core/wiremsg"
	"github.com/quorumnet/core/xorname"
)

// Bootstrap resolves the session's own section by querying contacts
// in fixed-size batches with exponential back-off between them,
// applying every section update it hears about along the way. It
// returns once at least one contact has answered with a valid,
// newly-applied update, or NetworkContact once every contact has been
// tried or the total time budget has run out.
func (s *Session) Bootstrap(ctx context.Context, contacts []ids.NodeID) error {
	if len(contacts) == 0 {
		return corerr.New(corerr.KindNetworkContact)
	}

	clientName := s.identity.Public().Name()
	batchSize := s.config.StartupBatch
	if batchSize <= 0 {
		batchSize = StartupBatchDefault
	}

	deadline := time.Now().Add(TotalBootstrapTimeout)
	wait := InitialBootstrapWait

	for offset := 0; offset < len(contacts); offset += batchSize {
		end := offset + batchSize
		if end > len(contacts) {
			end = len(contacts)
		}
		batch := contacts[offset:end]

		if s.bootstrapQuery(ctx, clientName, batch) {
			s.log.Info("bootstrap resolved", "contacts_tried", end)
			return nil
		}

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > MaxBootstrapBackoff {
			wait = MaxBootstrapBackoff
		}
	}
	s.log.Warn("bootstrap exhausted contacts", "contact_count", len(contacts))
	return corerr.New(corerr.KindNetworkContact)
}

// bootstrapQuery sends a GetSectionQuery to every contact in batch and
// applies any update it gets back, reporting whether at least one
// contact produced a newly-applied update.
func (s *Session) bootstrapQuery(ctx context.Context, name xorname.Name, batch []ids.NodeID) bool {
	body := Body{Type: TypeGetSectionQuery, GetSectionQuery: &GetSectionQuery{Name: name}}
	payload, err := EncodeBody(body)
	if err != nil {
		return false
	}
	msgID := wiremsg.NewMsgID()
	genesisKey := s.tree.GenesisKey()

	var mu sync.Mutex
	changed := false
	var wg sync.WaitGroup
	for _, contact := range batch {
		wg.Add(1)
		go func(contact ids.NodeID) {
			defer wg.Done()
			msg := wiremsg.Message{
				MsgID:   msgID,
				Kind:    wiremsg.KindClient,
				Dst:     wiremsg.Dst{Name: name, SectionKey: genesisKey},
				Payload: payload,
			}
			respMsg, err := s.links.send(ctx, s.transport, contact, msg)
			if err != nil {
				s.links.ForceNewLink(contact)
				return
			}
			respBody, err := DecodeBody(respMsg.Payload)
			if err != nil {
				return
			}
			updateBytes := bootstrapUpdateBytes(respBody)
			if updateBytes == nil {
				return
			}
			upd, err := section.DecodeUpdate(updateBytes)
			if err != nil {
				return
			}
			didChange, err := func() (bool, error) {
				s.treeMu.Lock()
				defer s.treeMu.Unlock()
				return s.tree.Update(upd)
			}()
			if err != nil {
				return
			}
			if didChange {
				mu.Lock()
				changed = true
				mu.Unlock()
			}
		}(contact)
	}
	wg.Wait()
	return changed
}

// bootstrapUpdateBytes extracts the update bytes from whichever body
// shape carried one: a direct section response, or an AE envelope a
// contact sent in place of one. Both are handled identically during
// bootstrap — any response a contact gives is useful routing
// information regardless of which wire shape carried it.
func bootstrapUpdateBytes(b Body) []byte {
	switch b.Type {
	case TypeSectionResponse:
		return b.SectionResponse.UpdateBytes
	case TypeAERetry:
		return b.AERetry.UpdateBytes
	case TypeAERedirect:
		return b.AERedirect.UpdateBytes
	default:
		return nil
	}
}
