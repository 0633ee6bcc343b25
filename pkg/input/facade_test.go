// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package input

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relaylog/logcore/pkg/queue"
	"github.com/relaylog/logcore/pkg/ruleset"
	"github.com/relaylog/logcore/pkg/tcpserver"
)

func TestActivatePrePrivDropFailsWithNoListeners(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	f := New(zap.NewNop(), reg)

	_, err := f.ActivatePrePrivDrop(tcpserver.Callbacks{}, nil, time.Second)
	if err != ErrNoListeners {
		t.Fatalf("expected ErrNoListeners, got %v", err)
	}
}

func TestActivatePrePrivDropBindsUnknownRulesetToDefault(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	if _, err := reg.Construct("main"); err != nil {
		t.Fatalf("Construct: %v", err)
	}

	f := New(zap.NewNop(), reg)
	f.SetBindRuleset("does-not-exist")
	f.AddListener(0)

	srv, err := f.ActivatePrePrivDrop(tcpserver.Callbacks{}, nil, time.Second)
	if err != nil {
		t.Fatalf("ActivatePrePrivDrop: %v", err)
	}
	defer srv.Destruct()
}

func TestActivatePrePrivDropBindsKnownRuleset(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	if _, err := reg.Construct("main"); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if _, err := reg.Construct("alerts"); err != nil {
		t.Fatalf("Construct: %v", err)
	}

	f := New(zap.NewNop(), reg)
	f.SetInputName("syslog-tcp")
	f.SetBindRuleset("alerts")
	f.AddListener(0)

	srv, err := f.ActivatePrePrivDrop(tcpserver.Callbacks{}, nil, time.Second)
	if err != nil {
		t.Fatalf("ActivatePrePrivDrop: %v", err)
	}
	defer srv.Destruct()
}

func TestResetConfigVariablesClearsScratch(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	f := New(zap.NewNop(), reg)

	f.SetInputName("custom")
	f.SetBindRuleset("special")
	f.SetMaxSessions(5)
	f.ResetConfigVariables()

	if f.curInputName != "imtcp" {
		t.Errorf("expected input name reset to imtcp, got %q", f.curInputName)
	}
	if f.curBindRuleset != "" {
		t.Errorf("expected bind ruleset reset to empty, got %q", f.curBindRuleset)
	}
	if f.maxSessions != 200 {
		t.Errorf("expected max sessions reset to 200, got %d", f.maxSessions)
	}
}

func TestSetRulesetCreateMainQueueRequiresCurrentRuleset(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	f := New(zap.NewNop(), reg)
	f.SetQueueFactory(func(name string) queue.Queue {
		t.Fatal("queue factory should not be called with no current ruleset")
		return nil
	})

	// No panic/error surface expected -- rejection is logged, not returned.
	f.SetRulesetCreateMainQueue(true)
}

func TestSetRulesetCreateMainQueueAttachesQueue(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	rs, err := reg.Construct("main")
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}

	f := New(zap.NewNop(), reg)
	called := false
	f.SetQueueFactory(func(name string) queue.Queue {
		called = true
		if name != "main" {
			t.Errorf("expected factory called with ruleset name main, got %q", name)
		}
		return queue.NewChannelQueue(zap.NewNop(), func([]*queue.Message) {})
	})

	f.SetRulesetCreateMainQueue(true)
	if !called {
		t.Fatal("expected queue factory to be invoked")
	}
	if rs.Queue() == nil {
		t.Fatal("expected ruleset to have a queue attached")
	}
}

func TestAddRulesetParserWithNoCurrentRulesetIsLoggedNotFatal(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	f := New(zap.NewNop(), reg)
	f.AddRulesetParser("rfc5424") // should log and return, not panic
}

func TestBuildDriverPlaintextByDefault(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	f := New(zap.NewNop(), reg)
	drv, err := f.buildDriver()
	if err != nil {
		t.Fatalf("buildDriver: %v", err)
	}
	if drv.Mode() != 0 {
		t.Errorf("expected plaintext mode, got %v", drv.Mode())
	}
}

func TestBuildDriverTLSWithoutCertFails(t *testing.T) {
	reg := ruleset.NewRegistry(zap.NewNop(), nil)
	f := New(zap.NewNop(), reg)
	if err := f.SetDriverMode(2); err != nil {
		t.Fatalf("SetDriverMode: %v", err)
	}
	if _, err := f.buildDriver(); err == nil {
		t.Fatal("expected error building TLS driver without cert/key files")
	}
}
