package engine

import (
	"strings"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// BranchPolicy selects how the successors of one step are walked.
type BranchPolicy string

const (
	// BranchSequential visits successors one after another in declaration order.
	BranchSequential BranchPolicy = "sequential"
	// BranchConcurrent visits successors concurrently; the first failure
	// cancels the siblings.
	BranchConcurrent BranchPolicy = "concurrent"
)

// ConditionPolicy selects whether a false condition step stops its successors.
type ConditionPolicy string

const (
	// ConditionNonGating records the result and always walks successors.
	ConditionNonGating ConditionPolicy = "non_gating"
	// ConditionGating skips the successors of a condition that evaluated false.
	ConditionGating ConditionPolicy = "gating"
)

// CyclePolicy selects how cycles in the successor graph are treated.
type CyclePolicy string

const (
	// CycleReject fails the load with CYCLE_DETECTED.
	CycleReject CyclePolicy = "reject"
	// CycleGuard accepts cycles; each step runs at most once per run.
	CycleGuard CyclePolicy = "guard"
)

// Policies groups the walker's behavioural switches. The zero value is the
// default: sequential, non-gating, reject cycles.
type Policies struct {
	Branches   BranchPolicy
	Conditions ConditionPolicy
	Cycles     CyclePolicy
	// MaxBranchConcurrency bounds BranchConcurrent fan-out. 0 means unbounded.
	MaxBranchConcurrency int
}

func (p Policies) withDefaults() Policies {
	if p.Branches == "" {
		p.Branches = BranchSequential
	}
	if p.Conditions == "" {
		p.Conditions = ConditionNonGating
	}
	if p.Cycles == "" {
		p.Cycles = CycleReject
	}
	return p
}

// ParsePolicies builds Policies from config strings. Empty strings keep defaults.
func ParsePolicies(branches, conditions, cycles string) (Policies, error) {
	var p Policies
	switch BranchPolicy(strings.ToLower(branches)) {
	case "":
	case BranchSequential:
		p.Branches = BranchSequential
	case BranchConcurrent:
		p.Branches = BranchConcurrent
	default:
		return p, schema.NewErrorf(schema.ErrCodeValidation, "unknown branch policy %q", branches)
	}

	switch ConditionPolicy(strings.ToLower(conditions)) {
	case "":
	case ConditionNonGating:
		p.Conditions = ConditionNonGating
	case ConditionGating:
		p.Conditions = ConditionGating
	default:
		return p, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition policy %q", conditions)
	}

	switch CyclePolicy(strings.ToLower(cycles)) {
	case "":
	case CycleReject:
		p.Cycles = CycleReject
	case CycleGuard:
		p.Cycles = CycleGuard
	default:
		return p, schema.NewErrorf(schema.ErrCodeValidation, "unknown cycle policy %q", cycles)
	}
	return p.withDefaults(), nil
}
