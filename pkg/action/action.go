// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package action holds concrete Action implementations -- the output
// plugins spec.md treats as an external collaborator consumed by a
// Rule. Forwarding actions share the CircuitBreaker adapted from
// pkg/export's resilience pattern so a wedged downstream fails fast
// instead of stalling every rule invocation behind it.
package action

import "github.com/relaylog/logcore/pkg/queue"

// Action is the interface pkg/ruleset.Action is satisfied by; defined
// here too (as an identical method set) so this package's concrete
// types are self-documenting without importing ruleset back.
type Action interface {
	Name() string
	Invoke(msg *queue.Message) error
}
