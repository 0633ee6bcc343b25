// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Directives is the set of operations the legacy directive loader drives,
// one call per recognized line (spec.md §6). pkg/input.Facade implements
// it; this package only knows how to tokenize lines and dispatch them.
type Directives interface {
	AddListener(port int)
	SetKeepAlive(bool)
	SetSupportOctetFraming(bool)
	SetMaxSessions(int)
	SetMaxListeners(int)
	SetNotifyOnClose(bool)
	SetDriverMode(mode int) error
	SetAuthMode(word string) error
	AddPermittedPeer(pattern string)
	SetAddtlFrameDelim(delim int)
	SetDisableLFDelim(bool)
	SetInputName(name string)
	SetBindRuleset(name string)
	SetFlowControl(bool)
	AddRulesetParser(name string)
	SetRulesetCreateMainQueue(bool)
	SetCertFile(path string)
	SetKeyFile(path string)
	SetCAFile(path string)
	ResetConfigVariables()
}

// ErrKind classifies why a directive line was rejected. Only
// ErrKindUnknownDirective and ErrKindBadValue abort the whole load
// (spec §7 CONFIG_INVALID); directive-level rejects such as
// NO_CURR_RULESET or PARSER_NOT_FOUND are handled inside the Directives
// implementation itself (logged, directive skipped, load continues).
type ErrKind int

const (
	ErrKindUnknownDirective ErrKind = iota
	ErrKindBadValue
)

// DirectiveError reports a CONFIG_INVALID failure at a specific line.
type DirectiveError struct {
	Kind      ErrKind
	Line      int
	Directive string
	Err       error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("config: line %d (%s): %v", e.Line, e.Directive, e.Err)
}

func (e *DirectiveError) Unwrap() error { return e.Err }

// LoadDirectives tokenizes r line by line and drives d. Directives are
// case-insensitive tokens, one per line, first match wins; blank lines
// and lines starting with "#" are skipped. The first unknown directive
// or malformed argument aborts the whole load with a *DirectiveError --
// mirrors spec §7's "CONFIG_INVALID ... fail config load."
func LoadDirectives(r io.Reader, d Directives) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tok, arg := splitDirective(line)
		directive := strings.ToLower(tok)

		if err := dispatch(d, directive, arg); err != nil {
			kind := ErrKindBadValue
			if errors.Is(err, errUnknownDirective) {
				kind = ErrKindUnknownDirective
			}
			return &DirectiveError{Kind: kind, Line: lineNo, Directive: directive, Err: err}
		}
	}
	return sc.Err()
}

func splitDirective(line string) (tok, arg string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}

var errUnknownDirective = errors.New("unknown directive")

func dispatch(d Directives, directive, arg string) error {
	switch directive {
	case "inputtcpserverrun":
		port, err := parseInt(arg)
		if err != nil {
			return err
		}
		d.AddListener(port)

	case "inputtcpserverkeepalive":
		v, err := parseBool(arg)
		if err != nil {
			return err
		}
		d.SetKeepAlive(v)

	case "inputtcpserversupportoctetcountedframing":
		v, err := parseBool(arg)
		if err != nil {
			return err
		}
		d.SetSupportOctetFraming(v)

	case "inputtcpmaxsessions":
		n, err := parseInt(arg)
		if err != nil {
			return err
		}
		d.SetMaxSessions(n)

	case "inputtcpmaxlisteners":
		n, err := parseInt(arg)
		if err != nil {
			return err
		}
		d.SetMaxListeners(n)

	case "inputtcpservernotifyonconnectionclose":
		v, err := parseBool(arg)
		if err != nil {
			return err
		}
		d.SetNotifyOnClose(v)

	case "inputtcpserverstreamdrivermode":
		n, err := parseInt(arg)
		if err != nil {
			return err
		}
		return d.SetDriverMode(n)

	case "inputtcpserverstreamdriverauthmode":
		return d.SetAuthMode(arg)

	case "inputtcpserverstreamdriverpermittedpeer":
		if arg == "" {
			return fmt.Errorf("permitted peer pattern required")
		}
		d.AddPermittedPeer(arg)

	case "inputtcpserveraddtlframedelimiter":
		n, err := parseInt(arg)
		if err != nil {
			return err
		}
		d.SetAddtlFrameDelim(n)

	case "inputtcpserverdisablelfdelimiter":
		v, err := parseBool(arg)
		if err != nil {
			return err
		}
		d.SetDisableLFDelim(v)

	case "inputtcpserverinputname":
		if arg == "" {
			return fmt.Errorf("input name required")
		}
		d.SetInputName(arg)

	case "inputtcpserverbindruleset":
		if arg == "" {
			return fmt.Errorf("ruleset name required")
		}
		d.SetBindRuleset(arg)

	case "inputtcpflowcontrol":
		v, err := parseBool(arg)
		if err != nil {
			return err
		}
		d.SetFlowControl(v)

	case "rulesetparser":
		if arg == "" {
			return fmt.Errorf("parser name required")
		}
		d.AddRulesetParser(arg)

	case "rulesetcreatemainqueue":
		v, err := parseBool(arg)
		if err != nil {
			return err
		}
		d.SetRulesetCreateMainQueue(v)

	// Supplemented directives (SPEC_FULL §12): the original's TLS
	// material is configured by a separate netstrm collaborator, not
	// imtcp.c itself. Since this module's stream driver must actually be
	// constructible, the directive table gains this trio.
	case "inputtcpserverstreamdrivercertfile":
		if arg == "" {
			return fmt.Errorf("cert file path required")
		}
		d.SetCertFile(arg)

	case "inputtcpserverstreamdriverkeyfile":
		if arg == "" {
			return fmt.Errorf("key file path required")
		}
		d.SetKeyFile(arg)

	case "inputtcpserverstreamdrivercafile":
		if arg == "" {
			return fmt.Errorf("CA file path required")
		}
		d.SetCAFile(arg)

	case "resetconfigvariables":
		d.ResetConfigVariables()

	default:
		return errUnknownDirective
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
