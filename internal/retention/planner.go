// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package retention

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Isodome/biu-back-it-up/internal/registry"
)

// RetentionRefusedError is returned when force-delete would discard
// every snapshot.
type RetentionRefusedError struct {
	ForceDelete int
	Available   int
}

func (e *RetentionRefusedError) Error() string {
	return fmt.Sprintf("retention: force-delete=%d would delete all %d snapshot(s), refusing", e.ForceDelete, e.Available)
}

// BudgetExceededError is a non-fatal warning: the planner stopped
// processing the plan early because the keep budget was exhausted.
type BudgetExceededError struct {
	Keep   int
	Budget int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("retention: keep count %d reached budget %d, remaining plan entries skipped", e.Keep, e.Budget)
}

// Decision records, for each snapshot (by index into the input slice,
// which Apply requires to already be chronologically ordered), whether
// it should be kept.
type Decision struct {
	Keep []bool
}

// ShouldKeep reports whether the snapshot at index i should be kept.
func (d Decision) ShouldKeep(i int) bool {
	return i < len(d.Keep) && d.Keep[i]
}

// Apply runs the retention algorithm from spec.md §4.3 against
// snapshots (oldest first, non-empty) and returns a Decision.
//
// Algorithm:
//  1. Mark the newest snapshot to keep.
//  2. budget = len(snapshots) - forceDelete. If forceDelete >=
//     len(snapshots), fail with RetentionRefusedError.
//  3. For each rule, in the order given: for i in [0, Count], compute
//     desired = now - i*Interval, then walk snapshots chronologically
//     and mark the first one whose CreationTime > desired. After each
//     mark, if all are kept, return; if kept >= budget, return a
//     BudgetExceededError and stop processing remaining rules.
func Apply(snapshots []registry.Snapshot, plan Plan, forceDelete int, now time.Time) (Decision, error) {
	n := len(snapshots)
	if n == 0 {
		return Decision{}, nil
	}

	if forceDelete >= n {
		return Decision{}, &RetentionRefusedError{ForceDelete: forceDelete, Available: n}
	}

	keep := make([]bool, n)
	keep[n-1] = true // always keep the newest snapshot

	budget := n - forceDelete

	countKept := func() int {
		c := 0
		for _, k := range keep {
			if k {
				c++
			}
		}
		return c
	}

	markFirstOlderThan := func(desired time.Time) {
		for i, s := range snapshots {
			if s.CreationTime.After(desired) {
				keep[i] = true
				return
			}
		}
	}

	for _, rule := range plan.Rules {
		for i := 0; i <= rule.Count; i++ {
			desired := now.Add(-time.Duration(i) * rule.Interval)
			markFirstOlderThan(desired)

			kept := countKept()
			if kept == n {
				return Decision{Keep: keep}, nil
			}
			if kept >= budget {
				return Decision{Keep: keep}, &BudgetExceededError{Keep: kept, Budget: budget}
			}
		}
	}

	return Decision{Keep: keep}, nil
}

// LogOutcome reports the retention decision via structured logging,
// used by cmd/biu's cleanup subcommand before issuing side effects.
func LogOutcome(logger *slog.Logger, snapshots []registry.Snapshot, d Decision) {
	for i, s := range snapshots {
		logger.Info("retention decision",
			slog.String("snapshot", s.Name()),
			slog.Bool("keep", d.ShouldKeep(i)))
	}
}
