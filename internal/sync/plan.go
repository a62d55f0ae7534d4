// Package sync coordinates recursive directory transfers: enumerating
// source and target, computing work lists, driving per-file uploads or
// downloads, and checkpointing progress in the request caches so an
// interrupted run resumes where it stopped.
package sync

import (
	"strconv"
)

// Item is one unit of pending work: a resource path relative to the
// sync root's parent, with the integrity reference recorded when the
// work was planned (mtime seconds or entity tag, empty when the caller
// chose neither).
type Item struct {
	Resource string
	Ref      string
}

// Plan is the outcome of comparing source against target.
type Plan struct {
	Transfers []Item
	Deletes   []Item
}

// computePlan derives the work lists from an authoritative source and
// the current target.
//
// With keepMissing false, targets absent from the source are deleted.
// With keepUpdated false, transfers are the pair difference (name and
// reference both considered). With keepUpdated true, a resource only
// transfers when the target lacks it or the source reference compares
// numerically greater — meaningful when the caller chose mtime
// references.
func computePlan(source, target []Item, keepMissing, keepUpdated bool) Plan {
	sourceNames := make(map[string]string, len(source))
	for _, s := range source {
		sourceNames[s.Resource] = s.Ref
	}

	targetNames := make(map[string]string, len(target))
	for _, t := range target {
		targetNames[t.Resource] = t.Ref
	}

	var plan Plan

	if !keepMissing {
		for _, t := range target {
			if _, ok := sourceNames[t.Resource]; !ok {
				plan.Deletes = append(plan.Deletes, t)
			}
		}
	}

	for _, s := range source {
		ref, exists := targetNames[s.Resource]

		if keepUpdated {
			if !exists || refGreater(s.Ref, ref) {
				plan.Transfers = append(plan.Transfers, s)
			}

			continue
		}

		if !exists || ref != s.Ref {
			plan.Transfers = append(plan.Transfers, s)
		}
	}

	return plan
}

// refGreater compares two references as numbers, true only when both
// parse and the source is strictly newer.
func refGreater(source, target string) bool {
	s, err := strconv.ParseFloat(source, 64)
	if err != nil {
		return false
	}

	t, err := strconv.ParseFloat(target, 64)
	if err != nil {
		return false
	}

	return s > t
}
