// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package ruleset holds the named collection of processing pipelines a
// message may be routed to: each Ruleset owns an ordered chain of Rules,
// an optional parser chain, and an optional private Queue (spec.md L6).
package ruleset

import (
	"sync"

	"github.com/relaylog/logcore/pkg/queue"
)

// Message is the unit dispatched through a ruleset: a parsed log record
// tagged with where it came from. It is the same type a Queue buffers and
// an Action ultimately receives, so it is defined once in pkg/queue and
// aliased here.
type Message = queue.Message

// Action is an output operation applied to a message -- file, forward,
// database, etc. Action implementations are external collaborators; this
// package only depends on the interface.
type Action interface {
	Name() string
	Invoke(msg *Message) error
}

// Rule is an ordered list of actions applied to every message the owning
// ruleset receives. A rule is never stored with zero actions (spec P5).
type Rule struct {
	Actions []Action
}

// Apply runs every action in order against msg. Action errors are logged
// by the caller and do not stop the chain -- spec §7: "queue and action
// errors surface per rule but do not abort the batch."
func (r *Rule) Apply(msg *Message) []error {
	var errs []error
	for _, a := range r.Actions {
		if err := a.Invoke(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Ruleset is a named, ordered chain of rules with its own parser list and
// optional queue. The zero value is not usable; construct with New.
type Ruleset struct {
	name string

	mu         sync.RWMutex
	rules      []*Rule
	parsers    []string // parser_list; nil means inherit the default chain
	hasParsers bool      // distinguishes "no parsers configured" from "configured empty"
	q          queue.Queue
}

func newRuleset(name string) *Ruleset {
	return &Ruleset{name: name}
}

// Name returns the ruleset's display name, as given to Construct
// (registry lookups fold case, but the name keeps its original casing).
func (r *Ruleset) Name() string { return r.name }

// Rules returns a snapshot of the ruleset's rule chain in insertion order.
func (r *Ruleset) Rules() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Queue returns the ruleset's private queue, or nil if it shares the
// global main queue.
func (r *Ruleset) Queue() queue.Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.q
}

// ParserList returns the ruleset's parser chain, and whether one was ever
// configured (nil, false ⇒ inherit the default chain).
func (r *Ruleset) ParserList() ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parsers, r.hasParsers
}

// IterateAllActions visits every action of every rule in this ruleset
// exactly once, in rule-insertion-order then action-insertion-order.
func (r *Ruleset) IterateAllActions(fn func(Action)) {
	r.mu.RLock()
	rules := make([]*Rule, len(r.rules))
	copy(rules, r.rules)
	r.mu.RUnlock()

	for _, rule := range rules {
		for _, a := range rule.Actions {
			fn(a)
		}
	}
}
