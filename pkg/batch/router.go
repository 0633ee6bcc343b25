// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/relaylog/logcore/pkg/ruleset"
)

// Router pushes batches through the ruleset registry's rule chains.
// Grounded on processBatch/processBatchMultiRuleset in runtime/ruleset.c.
type Router struct {
	log *zap.Logger
	reg *ruleset.Registry
}

// NewRouter builds a Router against reg.
func NewRouter(log *zap.Logger, reg *ruleset.Registry) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{log: log, reg: reg}
}

// Process routes every element of b to its bound ruleset's rule chain.
// If b.SingleRuleset, every element shares one ruleset and is processed
// as a whole (the fast path); a nil ruleset on that path falls back to
// the registry default, mirroring processBatch's
// "pThis == NULL ⇒ ourConf->rulesets.pDflt". Otherwise Process partitions
// b by ruleset identity and processes each partition as its own
// single-ruleset sub-batch (processBatchMultiRuleset).
//
// Process returns early, leaving remaining elements StateUnprocessed, if
// ctx is canceled mid-partition (returning ctx.Err()) or b.ShutdownImmediate
// is set (returning nil) -- bounding how much work a cancellation leaves
// half-done (P8).
func (r *Router) Process(ctx context.Context, b *Batch) error {
	if b.SingleRuleset {
		rs := b.Elems[0].Ruleset
		if rs == nil {
			rs = r.reg.Default()
		}
		r.applyRules(rs, b.Elems)
		for i := range b.Elems {
			b.Elems[i].State = StateDiscarded
		}
		return nil
	}
	return r.processMultiRuleset(ctx, b)
}

// processMultiRuleset repeatedly finds the first unprocessed element,
// collects every element still bound to that same ruleset into a
// sub-batch, marks them all discarded in the parent batch, and applies
// the sub-batch's rule chain -- the exact loop shape of
// processBatchMultiRuleset, generalized from a fixed-capacity temp batch
// to an in-place partition scan since Go slices need no preallocated
// twin buffer.
func (r *Router) processMultiRuleset(ctx context.Context, b *Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if b.ShutdownImmediate != nil && *b.ShutdownImmediate {
			return nil
		}

		iStart := -1
		for i := range b.Elems {
			if b.Elems[i].State != StateDiscarded {
				iStart = i
				break
			}
		}
		if iStart == -1 {
			return nil // everything processed
		}

		current := b.Elems[iStart].Ruleset
		var sub []Elem
		for i := iStart; i < len(b.Elems); i++ {
			if b.Elems[i].Ruleset == current {
				sub = append(sub, b.Elems[i])
				b.Elems[i].State = StateDiscarded
			}
		}

		rs := current
		if rs == nil {
			rs = r.reg.Default()
		}
		r.applyRules(rs, sub)
	}
}

// applyRules pushes every elem through rs's rule chain in order,
// logging (not aborting on) action errors -- spec §7: queue/action
// errors surface per rule but do not abort the batch.
func (r *Router) applyRules(rs *ruleset.Ruleset, elems []Elem) {
	if rs == nil {
		r.log.Warn("batch: no ruleset available (no default configured), dropping elements",
			zap.Int("count", len(elems)))
		return
	}
	rules := rs.Rules()
	for i := range elems {
		msg := elems[i].Msg
		for _, rule := range rules {
			for _, err := range rule.Apply(msg) {
				r.log.Warn("batch: action error",
					zap.String("ruleset", rs.Name()), zap.Error(err))
			}
		}
	}
}
