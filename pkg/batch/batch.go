// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package batch groups messages bound for the same ruleset so the
// router can push each group through its rule chain as a unit instead of
// one message at a time, grounded on runtime/ruleset.c's batch_t /
// processBatch / processBatchMultiRuleset.
package batch

import "github.com/relaylog/logcore/pkg/ruleset"

// State is an element's processing status within a Batch.
type State int

const (
	// StateUnprocessed is the initial state of every element.
	StateUnprocessed State = iota
	// StateDiscarded marks an element already routed to its ruleset, or
	// dropped -- mirrors BATCH_STATE_DISC in ruleset.c: once set, the
	// router's partition loop skips the element for good.
	StateDiscarded
)

// Elem is one message plus its routing metadata within a Batch.
type Elem struct {
	Msg     *ruleset.Message
	Ruleset *ruleset.Ruleset // the ruleset this element is bound to; nil means "use the default"
	State   State
}

// Batch is a slice of Elem plus a flag recording whether every element
// shares one ruleset -- the condition processBatch() checks to decide
// between its single-ruleset fast path and the multi-ruleset partition
// algorithm.
type Batch struct {
	Elems          []Elem
	SingleRuleset  bool
	ShutdownImmediate *bool // shared flag; a non-nil true aborts mid-partition, mirrors pbShutdownImmediate
}

// New builds a batch from msgs, each bound to the ruleset resolver
// returns. SingleRuleset is computed automatically: true iff every
// element resolves to the same *ruleset.Ruleset pointer (nil counts as
// a distinct "use default" identity only when every element is nil).
func New(msgs []*ruleset.Message, resolve func(*ruleset.Message) *ruleset.Ruleset) *Batch {
	elems := make([]Elem, len(msgs))
	single := true
	var first *ruleset.Ruleset
	for i, m := range msgs {
		rs := resolve(m)
		elems[i] = Elem{Msg: m, Ruleset: rs}
		if i == 0 {
			first = rs
		} else if rs != first {
			single = false
		}
	}
	return &Batch{Elems: elems, SingleRuleset: single}
}

// AllDiscarded reports whether every element has been routed.
func (b *Batch) AllDiscarded() bool {
	for i := range b.Elems {
		if b.Elems[i].State != StateDiscarded {
			return false
		}
	}
	return true
}
