// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

// DefaultDirective is the directive used whenever a directive cannot be parsed.
const DefaultDirective = "info"

// DirectiveError describes why a directive could not be parsed.
type DirectiveError struct {
	Directive string
	Reason    string
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("invalid level directive %q: %s", e.Directive, e.Reason)
}

type targetLevel struct {
	target string
	level  zapcore.Level
}

// Filter decides whether a record of a given target and level is emitted.
// A Filter is immutable once built.
//
// A directive is a comma separated list of items, each of which is one of
//
//	level           default level for every target
//	target=level    level for targets starting with target
//	target          every level for targets starting with target
//
// The most specific (longest) matching target wins. Without a bare level,
// targets that match no item are suppressed.
type Filter struct {
	directive  string
	defaultLvl zapcore.Level
	targets    []targetLevel // longest target first
	minLevel   zapcore.Level
}

// ParseFilter parses a directive into a Filter.
func ParseFilter(directive string) (*Filter, error) {
	f := &Filter{defaultLvl: OffLevel}
	hasDefault := false

	if strings.TrimSpace(directive) == "" {
		return nil, &DirectiveError{Directive: directive, Reason: "empty directive"}
	}

	seen := map[string]bool{}
	for _, item := range strings.Split(directive, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, &DirectiveError{Directive: directive, Reason: "empty item"}
		}
		if strings.ContainsAny(item, "[]{}") {
			return nil, &DirectiveError{Directive: directive, Reason: "span selectors are not supported"}
		}

		target, levelText, hasLevel := strings.Cut(item, "=")
		if !hasLevel {
			// A lone word is a level if it parses as one, otherwise a target.
			if lvl, err := ParseLevel(item); err == nil {
				if hasDefault {
					return nil, &DirectiveError{Directive: directive, Reason: "more than one default level"}
				}
				f.defaultLvl, hasDefault = lvl, true
				continue
			}
			target, levelText = item, "trace"
		}

		target = strings.TrimSpace(target)
		if target == "" {
			return nil, &DirectiveError{Directive: directive, Reason: "empty target"}
		}
		if strings.Contains(levelText, "=") {
			return nil, &DirectiveError{Directive: directive, Reason: fmt.Sprintf("item %q has more than one '='", item)}
		}
		lvl, err := ParseLevel(levelText)
		if err != nil {
			return nil, &DirectiveError{Directive: directive, Reason: err.Error()}
		}
		if seen[target] {
			return nil, &DirectiveError{Directive: directive, Reason: fmt.Sprintf("target %q given twice", target)}
		}
		seen[target] = true
		f.targets = append(f.targets, targetLevel{target: target, level: lvl})
	}

	sort.SliceStable(f.targets, func(i, j int) bool {
		return len(f.targets[i].target) > len(f.targets[j].target)
	})

	f.minLevel = f.defaultLvl
	for _, t := range f.targets {
		if t.level < f.minLevel {
			f.minLevel = t.level
		}
	}
	f.directive = f.render()

	return f, nil
}

// FilterOrDefault parses directive and falls back to the DefaultDirective
// filter when it is malformed. The returned error is the parse error that
// caused the fallback; the filter is always usable.
func FilterOrDefault(directive string) (*Filter, error) {
	f, err := ParseFilter(directive)
	if err != nil {
		return defaultFilter(), err
	}
	return f, nil
}

func defaultFilter() *Filter {
	return &Filter{
		directive:  DefaultDirective,
		defaultLvl: zapcore.InfoLevel,
		minLevel:   zapcore.InfoLevel,
	}
}

// Enabled reports whether a record for target at level l passes the filter.
func (f *Filter) Enabled(target string, l zapcore.Level) bool {
	return severity(l) >= f.LevelFor(target)
}

// LevelFor returns the minimum level emitted for target.
func (f *Filter) LevelFor(target string) zapcore.Level {
	for _, t := range f.targets {
		if strings.HasPrefix(target, t.target) {
			return t.level
		}
	}
	return f.defaultLvl
}

// MinLevel is the lowest level any target may emit at.
func (f *Filter) MinLevel() zapcore.Level {
	return f.minLevel
}

// String returns the normalized directive.
func (f *Filter) String() string {
	return f.directive
}

func (f *Filter) render() string {
	parts := make([]string, 0, len(f.targets)+1)
	if f.defaultLvl != OffLevel || len(f.targets) == 0 {
		parts = append(parts, LevelName(f.defaultLvl))
	}
	// Render in input-independent order so equal filters print equally.
	targets := append([]targetLevel(nil), f.targets...)
	sort.Slice(targets, func(i, j int) bool { return targets[i].target < targets[j].target })
	for _, t := range targets {
		parts = append(parts, t.target+"="+LevelName(t.level))
	}
	return strings.Join(parts, ",")
}
