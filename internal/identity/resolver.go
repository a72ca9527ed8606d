// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package identity decides, per result set, whether rows can be mapped back
// to unique server-side records. Resolution tries the primary key, then the
// only NOT NULL unique constraint, then a configured override; everything
// else is Unavailable and editing stays disabled.
package identity

import (
	"context"
	"fmt"
	"strings"

	"pkt.systems/pslog"

	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
)

// MetadataSource is the slice of session.Session the resolver needs.
type MetadataSource interface {
	Metadata(ctx context.Context, rel result.Relation) (session.RelationMeta, error)
}

// Resolver resolves identity keys for result sets.
type Resolver struct {
	meta      MetadataSource
	overrides map[result.Relation][]string
	log       pslog.Logger
}

// NewResolver builds a resolver. Override keys are table names, optionally
// schema-qualified ("events" or "audit.events").
func NewResolver(meta MetadataSource, overrides map[string][]string, log pslog.Logger) *Resolver {
	ov := make(map[result.Relation][]string, len(overrides))
	for name, cols := range overrides {
		ov[result.ParseRelation(name)] = cols
	}
	return &Resolver{meta: meta, overrides: ov, log: log}
}

// Resolve returns the identity for a result set produced by stmt, along with
// the columns annotated with nullability and identity flags.
func (r *Resolver) Resolve(ctx context.Context, stmt string, cols []result.Column) (result.Identity, []result.Column) {
	unavailable := func(format string, args ...any) (result.Identity, []result.Column) {
		reason := fmt.Sprintf(format, args...)
		r.log.Debug("identity unavailable", "reason", reason)
		return result.Identity{State: result.Unavailable, Reason: reason}, cols
	}

	rel, err := AnalyzeSelect(stmt)
	if err != nil {
		return unavailable("%v", err)
	}

	reported := map[result.Relation]bool{}
	for _, c := range cols {
		if !c.Relation.IsZero() {
			reported[c.Relation] = true
		}
	}
	if len(reported) > 1 {
		return unavailable("columns come from %d relations", len(reported))
	}
	provenance := len(reported) == 1
	for rr := range reported {
		rel = rr
	}

	meta, err := r.meta.Metadata(ctx, rel)
	if err != nil {
		r.log.Warn("identity metadata lookup failed", "relation", rel.String(), "err", err)
		return unavailable("metadata for %s: %v", rel, err)
	}

	// source column name -> result ordinal, for columns that belong to rel
	ords := map[string]int{}
	annotated := make([]result.Column, len(cols))
	for i, c := range cols {
		c.Nullable = true
		c.Identity = false
		belongs := c.Relation == rel
		if !provenance {
			_, belongs = meta.Column(c.SourceName())
			if belongs {
				c.Relation = rel
			}
		}
		if belongs {
			if cm, ok := meta.Column(c.SourceName()); ok {
				c.Nullable = cm.Nullable
				if c.Type == "" {
					c.Type = cm.Type
				}
			}
			if _, dup := ords[c.SourceName()]; !dup {
				ords[c.SourceName()] = i
			}
		}
		annotated[i] = c
	}

	type candidate struct {
		source string
		cols   []string
	}
	var cands []candidate
	if len(meta.PrimaryKey) > 0 {
		cands = append(cands, candidate{"primary key", meta.PrimaryKey})
	}
	var usable [][]string
	for _, u := range meta.Unique {
		if notNull(meta, u) {
			usable = append(usable, u)
		}
	}
	if len(usable) == 1 {
		cands = append(cands, candidate{"unique constraint", usable[0]})
	}
	if ov, ok := r.overrides[rel]; ok {
		cands = append(cands, candidate{"override", ov})
	}

	for _, cand := range cands {
		key, ok := keyOrdinals(cand.cols, ords)
		if !ok {
			r.log.Debug("identity candidate not in result", "relation", rel.String(), "source", cand.source, "columns", strings.Join(cand.cols, ","))
			continue
		}
		for _, ord := range key {
			annotated[ord].Identity = true
		}
		r.log.Debug("identity resolved", "relation", rel.String(), "source", cand.source, "columns", strings.Join(cand.cols, ","))
		return result.Identity{State: result.Resolved, Relation: rel, Key: key, Source: cand.source}, annotated
	}

	reason := "no primary key, single unique constraint or override"
	if len(cands) > 0 {
		reason = "key columns are not all present in the result"
	} else if len(usable) > 1 {
		reason = fmt.Sprintf("%d unique constraints and no override", len(usable))
	}
	return result.Identity{State: result.Unavailable, Relation: rel, Reason: reason}, annotated
}

func keyOrdinals(names []string, ords map[string]int) ([]int, bool) {
	if len(names) == 0 {
		return nil, false
	}
	key := make([]int, 0, len(names))
	for _, n := range names {
		ord, ok := ords[n]
		if !ok {
			return nil, false
		}
		key = append(key, ord)
	}
	return key, true
}

func notNull(meta session.RelationMeta, cols []string) bool {
	for _, n := range cols {
		cm, ok := meta.Column(n)
		if !ok || cm.Nullable {
			return false
		}
	}
	return len(cols) > 0
}
