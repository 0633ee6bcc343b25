// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package ruleset

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relaylog/logcore/pkg/queue"
)

// Sentinel errors mirroring the RS_RET_* codes runtime/ruleset.c returns
// from the equivalent operations.
var (
	// ErrNoCurrRuleset is returned by AttachQueue/AddParser when no
	// ruleset has been constructed yet to act as the implicit target.
	ErrNoCurrRuleset = errors.New("ruleset: no current ruleset")
	// ErrQueueExists is returned by AttachQueue when the target ruleset
	// already owns a private queue.
	ErrQueueExists = errors.New("ruleset: ruleset already has a queue")
	// ErrAlreadyExists is returned by Construct when the name is taken.
	ErrAlreadyExists = errors.New("ruleset: name already exists")
	// ErrParserNotFound is returned by AddParser for an unregistered name.
	ErrParserNotFound = errors.New("ruleset: parser not found")
)

// Registry owns the full set of named rulesets plus the default/current
// pointers that the legacy config-file directives implicitly target.
// Grounded on runtime/ruleset.c's rulesetTab + pCurr/pDflt globals: each
// ruleset() directive constructs a new entry and always becomes pCurr;
// it becomes pDflt too only if nothing has claimed that slot yet.
type Registry struct {
	log *zap.Logger

	mu      sync.RWMutex
	sets    map[string]*Ruleset
	order   []string // insertion order, for deterministic HUP/shutdown iteration
	current *Ruleset
	deflt   *Ruleset

	knownParsers map[string]bool
}

// NewRegistry returns an empty registry. knownParsers is the set of parser
// names AddParser will accept; a nil or empty set means parser validation
// is skipped (useful in tests).
func NewRegistry(log *zap.Logger, knownParsers map[string]bool) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:          log,
		sets:         make(map[string]*Ruleset),
		knownParsers: knownParsers,
	}
}

// Construct creates a new, empty ruleset named name and makes it current.
// It also becomes the default ruleset if no default has been set yet.
// Mirrors rulesetConstructFinalize: pCurr is unconditionally replaced,
// pDflt only if still nil. Returns ErrAlreadyExists if name is taken.
// Lookup is case-insensitive (spec §4.6 / P4): the registry keys are
// folded, though the ruleset itself keeps the name as given for display.
func (r *Registry) Construct(name string) (*Ruleset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := foldName(name)
	if _, ok := r.sets[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	rs := newRuleset(name)
	r.sets[key] = rs
	r.order = append(r.order, key)
	r.current = rs
	if r.deflt == nil {
		r.deflt = rs
	}
	return rs, nil
}

// Get looks up a ruleset by name, case-insensitively. ok is false if it
// does not exist.
func (r *Registry) Get(name string) (rs *Ruleset, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok = r.sets[foldName(name)]
	return rs, ok
}

// foldName normalizes a ruleset name for case-insensitive lookup.
func foldName(name string) string {
	return strings.ToLower(name)
}

// Default returns the default ruleset, or nil if none has been
// constructed yet.
func (r *Registry) Default() *Ruleset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deflt
}

// Current returns the ruleset that implicitly receives the next rule
// added via AddRule with an empty target, or nil if none exists yet.
func (r *Registry) Current() *Ruleset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetDefault changes the default ruleset to the one named name. Mirrors
// the original SetDefaultRuleset: an unknown name is a silent no-op, only
// logged, because rulesetGetRuleset's lookup failure there is swallowed
// rather than propagated. This is a latent footgun carried forward
// intentionally (see DESIGN.md, pkg/ruleset).
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.sets[foldName(name)]
	if !ok {
		r.log.Warn("ruleset: set-default references unknown ruleset, ignoring", zap.String("name", name))
		return
	}
	r.deflt = rs
}

// SetCurrent changes the current ruleset to the one named name. Same
// silent-no-op-on-unknown-name behavior as SetDefault.
func (r *Registry) SetCurrent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.sets[foldName(name)]
	if !ok {
		r.log.Warn("ruleset: set-current references unknown ruleset, ignoring", zap.String("name", name))
		return
	}
	r.current = rs
}

// AddRule appends rule to the target ruleset (the current one, if target
// is nil). A rule with zero actions is never stored -- mirrors addRule's
// "selector line without actions will be discarded" check -- it is
// logged and dropped instead.
func (r *Registry) AddRule(target *Ruleset, rule *Rule) {
	if len(rule.Actions) == 0 {
		r.log.Warn("ruleset: rule without actions discarded")
		return
	}
	if target == nil {
		target = r.Current()
	}
	if target == nil {
		r.log.Warn("ruleset: no current ruleset, rule discarded")
		return
	}
	target.mu.Lock()
	target.rules = append(target.rules, rule)
	target.mu.Unlock()
}

// AddParser appends a parser name to target's parser chain (current
// ruleset if target is nil). Returns ErrNoCurrRuleset if there is no
// implicit target, ErrParserNotFound if name is not in the registry's
// known parser set.
func (r *Registry) AddParser(target *Ruleset, name string) error {
	if target == nil {
		target = r.Current()
	}
	if target == nil {
		return ErrNoCurrRuleset
	}
	if len(r.knownParsers) > 0 && !r.knownParsers[name] {
		return fmt.Errorf("%w: %s", ErrParserNotFound, name)
	}
	target.mu.Lock()
	target.parsers = append(target.parsers, name)
	target.hasParsers = true
	target.mu.Unlock()
	return nil
}

// AttachQueue installs q as target's private queue (current ruleset if
// target is nil). Returns ErrNoCurrRuleset / ErrQueueExists to mirror
// doRulesetCreateQueue's RS_RET_NO_CURR_RULESET / RS_RET_RULES_QUEUE_EXISTS.
func (r *Registry) AttachQueue(target *Ruleset, q queue.Queue) error {
	if target == nil {
		target = r.Current()
	}
	if target == nil {
		return ErrNoCurrRuleset
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.q != nil {
		return ErrQueueExists
	}
	target.q = q
	return nil
}

// IterateAllActions visits every action of every rule in every ruleset,
// in registry insertion order -- mirrors iterateAllActions /
// iterateRulesetAllActions in ruleset.c. The daemon calls it on SIGHUP;
// shutdown goes through DestroyAll, which closes queues and does not
// visit actions.
func (r *Registry) IterateAllActions(fn func(rulesetName string, a Action)) {
	r.mu.RLock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	sets := make([]*Ruleset, 0, len(keys))
	for _, k := range keys {
		sets = append(sets, r.sets[k])
	}
	r.mu.RUnlock()

	for _, rs := range sets {
		rs.IterateAllActions(func(a Action) {
			fn(rs.Name(), a)
		})
	}
}

// DestroyAll closes every ruleset's private queue (if any) and clears the
// registry. Intended for shutdown; queue close errors are logged, not
// returned, so every queue gets a chance to drain.
func (r *Registry) DestroyAll(closeQueue func(q queue.Queue) error) {
	r.mu.Lock()
	sets := make([]*Ruleset, 0, len(r.sets))
	for _, rs := range r.sets {
		sets = append(sets, rs)
	}
	r.sets = make(map[string]*Ruleset)
	r.order = nil
	r.current = nil
	r.deflt = nil
	r.mu.Unlock()

	for _, rs := range sets {
		rs.mu.RLock()
		q := rs.q
		rs.mu.RUnlock()
		if q == nil || closeQueue == nil {
			continue
		}
		if err := closeQueue(q); err != nil {
			r.log.Warn("ruleset: error closing queue during shutdown",
				zap.String("ruleset", rs.Name()), zap.Error(err))
		}
	}
}
