// Package differ computes the Added/Modified/Renamed/Deleted symbol deltas
// between a file's previous and new symbol sets, per the matching and
// tie-break rules in the snapshot pipeline's diff step.
package differ

import (
	"sort"

	"github.com/alessandrobrunoh/mnemosyne/internal/model"
	"github.com/alessandrobrunoh/mnemosyne/internal/symbols"
)

// Diff computes the ordered delta list between prior (the parent
// snapshot's symbol set, empty if there is none) and next (the new
// snapshot's symbol set). The result's SnapshotID/Ordinal are left zero;
// the caller (internal/pipeline) stamps them in at commit time.
func Diff(prior, next []symbols.Symbol) []model.Delta {
	priorByKey := indexByKey(prior)
	nextByKey := indexByKey(next)

	var modified, renamed, deleted, added []model.Delta

	priorOnly := map[symbols.Key]symbols.Symbol{}
	for k, s := range priorByKey {
		if _, ok := nextByKey[k]; !ok {
			priorOnly[k] = s
		}
	}
	nextOnly := map[symbols.Key]symbols.Symbol{}
	for k, s := range nextByKey {
		if _, ok := priorByKey[k]; !ok {
			nextOnly[k] = s
		}
	}

	for k, p := range priorByKey {
		n, ok := nextByKey[k]
		if !ok {
			continue
		}
		if p.StructuralDigest != n.StructuralDigest {
			pp, nn := p, n
			modified = append(modified, model.Delta{Kind: model.DeltaModified, Old: &pp, New: &nn})
		}
	}

	// Group next-only candidates by structural digest for rename matching.
	candidatesByDigest := map[[32]byte][]symbols.Symbol{}
	for _, n := range nextOnly {
		candidatesByDigest[n.StructuralDigest] = append(candidatesByDigest[n.StructuralDigest], n)
	}
	matchedNext := map[symbols.Key]bool{}

	// Deterministic order: iterate priorOnly sorted by key so matching
	// doesn't depend on map iteration order.
	priorOnlyKeys := make([]symbols.Key, 0, len(priorOnly))
	for k := range priorOnly {
		priorOnlyKeys = append(priorOnlyKeys, k)
	}
	sort.Slice(priorOnlyKeys, func(i, j int) bool { return lessKey(priorOnlyKeys[i], priorOnlyKeys[j]) })

	for _, pk := range priorOnlyKeys {
		p := priorOnly[pk]
		candidates := candidatesByDigest[p.StructuralDigest]

		var unmatched []symbols.Symbol
		for _, c := range candidates {
			if !matchedNext[c.Key()] {
				unmatched = append(unmatched, c)
			}
		}

		match, ok := pickRenameCandidate(p, unmatched)
		if !ok {
			continue
		}

		matchedNext[match.Key()] = true
		delete(priorOnly, pk)
		delete(nextOnly, match.Key())

		pp, nn := p, match
		renamed = append(renamed, model.Delta{Kind: model.DeltaRenamed, Old: &pp, New: &nn})
	}

	for _, p := range priorOnly {
		pp := p
		deleted = append(deleted, model.Delta{Kind: model.DeltaDeleted, Old: &pp})
	}
	for _, n := range nextOnly {
		nn := n
		added = append(added, model.Delta{Kind: model.DeltaAdded, New: &nn})
	}

	sort.Slice(modified, func(i, j int) bool { return modified[i].New.QualifiedScope+"."+modified[i].New.Name < modified[j].New.QualifiedScope+"."+modified[j].New.Name })
	sort.Slice(renamed, func(i, j int) bool { return renamed[i].New.QualifiedScope+"."+renamed[i].New.Name < renamed[j].New.QualifiedScope+"."+renamed[j].New.Name })
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].Old.QualifiedScope+"."+deleted[i].Old.Name < deleted[j].Old.QualifiedScope+"."+deleted[j].Old.Name })
	sort.Slice(added, func(i, j int) bool { return added[i].New.QualifiedScope+"."+added[i].New.Name < added[j].New.QualifiedScope+"."+added[j].New.Name })

	out := make([]model.Delta, 0, len(modified)+len(renamed)+len(deleted)+len(added))
	out = append(out, modified...)
	out = append(out, renamed...)
	out = append(out, deleted...)
	out = append(out, added...)
	return out
}

// pickRenameCandidate applies the tie-break rules when more than one
// next-only symbol shares p's structural digest: prefer a matching
// qualified-scope, then the closest byte-span length, else leave p
// unmatched (it becomes a Deleted/Added pair instead).
func pickRenameCandidate(p symbols.Symbol, candidates []symbols.Symbol) (symbols.Symbol, bool) {
	switch len(candidates) {
	case 0:
		return symbols.Symbol{}, false
	case 1:
		return candidates[0], true
	}

	var sameScope []symbols.Symbol
	for _, c := range candidates {
		if c.QualifiedScope == p.QualifiedScope {
			sameScope = append(sameScope, c)
		}
	}
	pool := candidates
	if len(sameScope) == 1 {
		return sameScope[0], true
	}
	if len(sameScope) > 1 {
		pool = sameScope
	}

	pLen := int(p.Span.End - p.Span.Start)
	best := pool[0]
	bestDiff := spanLenDiff(pLen, best)
	ambiguous := false
	for _, c := range pool[1:] {
		d := spanLenDiff(pLen, c)
		if d < bestDiff {
			best, bestDiff, ambiguous = c, d, false
		} else if d == bestDiff {
			ambiguous = true
		}
	}
	if ambiguous {
		return symbols.Symbol{}, false
	}
	return best, true
}

func spanLenDiff(pLen int, c symbols.Symbol) int {
	cLen := int(c.Span.End - c.Span.Start)
	d := pLen - cLen
	if d < 0 {
		d = -d
	}
	return d
}

func indexByKey(ss []symbols.Symbol) map[symbols.Key]symbols.Symbol {
	m := make(map[symbols.Key]symbols.Symbol, len(ss))
	for _, s := range ss {
		m[s.Key()] = s
	}
	return m
}

func lessKey(a, b symbols.Key) bool {
	if a.QualifiedScope != b.QualifiedScope {
		return a.QualifiedScope < b.QualifiedScope
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Kind < b.Kind
}
