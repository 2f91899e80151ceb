// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package doc

import "sort"

// ResolveConflict picks the winner of two competing versions of the same
// document: the higher revision index wins, and equal indexes fall back to
// the greater token. The returned winner is a copy of the winning document
// whose Conflicts hold every losing revision known to either side, newest
// first and without duplicates. Because the outcome depends only on the two
// revisions, resolving (a, b) and (b, a) yields equal results.
func ResolveConflict(a, b *Document) (winner *Document, loser Revision) {
	w, l := a, b
	if a.Rev.Less(b.Rev) {
		w, l = b, a
	}

	winner = w.Clone()
	winner.Conflicts = mergeConflicts(w.Rev, w.Conflicts, l.Conflicts, []Revision{l.Rev})
	return winner, l.Rev
}

// Supersede returns a copy of |next| that replaces |current| as a plain
// update: the conflicts of both are kept but |current| itself is not
// recorded as a loser. Use it when |next|'s history contains |current|.
func Supersede(current, next *Document) *Document {
	d := next.Clone()
	d.Conflicts = mergeConflicts(next.Rev, next.Conflicts, current.Conflicts)
	return d
}

func mergeConflicts(winning Revision, lists ...[]Revision) []Revision {
	seen := make(map[Revision]struct{})
	var merged []Revision
	for _, list := range lists {
		for _, r := range list {
			if r == winning || r.IsZero() {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			merged = append(merged, r)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[j].Less(merged[i])
	})
	return merged
}
