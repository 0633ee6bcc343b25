// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package action

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/relaylog/logcore/pkg/queue"
)

// StdoutAction prints each message to stdout, adapted from
// pkg/export.StdoutExporter's text-format branch -- the simplest
// possible sink, useful for debugging a ruleset's routing without a
// downstream.
type StdoutAction struct {
	name   string
	log    *zap.Logger
	format string // "text" or "json"
}

// NewStdoutAction builds a StdoutAction named name. format selects
// "text" (default) or "json" rendering.
func NewStdoutAction(name, format string, log *zap.Logger) *StdoutAction {
	if format == "" {
		format = "text"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StdoutAction{name: name, log: log, format: format}
}

func (a *StdoutAction) Name() string { return a.name }

func (a *StdoutAction) Invoke(msg *queue.Message) error {
	if a.format == "json" {
		fmt.Fprintf(os.Stdout, `{"input":%q,"peer":%q,"payload":%q}%s`,
			msg.InputName, msg.PeerAddr, string(msg.Payload), "\n")
		return nil
	}
	fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", msg.InputName, msg.PeerAddr, msg.Payload)
	return nil
}
