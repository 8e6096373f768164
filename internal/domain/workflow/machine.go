package workflow

import (
	"sort"
	"time"

	"github.com/expenseflow/expenseflow/internal/domain/entity"
)

// Decision is an approver's verdict on a pending entry.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid reports whether d is a supported decision.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// EntryStatus returns the entry status a decision transitions to.
func (d Decision) EntryStatus() entity.EntryStatus {
	if d == DecisionApprove {
		return entity.EntryApproved
	}
	return entity.EntryRejected
}

// Outcome is the aggregate result of applying one decision to a chain.
type Outcome struct {
	Status            entity.ExpenseStatus
	CurrentApproverID string
	Terminal          bool
	RejectionReason   string
}

// Machine owns the approval chain of a single expense and computes its
// transitions. It mutates only the in-memory chain snapshot it was built
// with; persistence and the atomic entry precondition belong to the caller.
type Machine struct {
	ruleType entity.RuleType
	policy   entity.PercentagePolicy
	entries  []*entity.ApprovalEntry
}

// NewMachine builds a machine over a chain snapshot. Entries are ordered by
// their declared order so sequential advancement is deterministic.
func NewMachine(ruleType entity.RuleType, policy entity.PercentagePolicy, entries []*entity.ApprovalEntry) *Machine {
	sorted := make([]*entity.ApprovalEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	return &Machine{
		ruleType: ruleType,
		policy:   policy,
		entries:  sorted,
	}
}

// InitialApproverID returns the current approver for a freshly routed chain:
// the first pending entry in chain order for sequential and hybrid chains,
// empty for percentage chains where every pending holder may act.
func InitialApproverID(ruleType entity.RuleType, entries []*entity.ApprovalEntry) string {
	if ruleType == entity.RulePercentage {
		return ""
	}
	lowest := ""
	order := 0
	for _, e := range entries {
		if e.Status != entity.EntryPending {
			continue
		}
		if lowest == "" || e.Order < order {
			lowest = e.ApproverID
			order = e.Order
		}
	}
	return lowest
}

// Entries returns the chain snapshot in order.
func (m *Machine) Entries() []*entity.ApprovalEntry {
	return m.entries
}

// Apply records approverID's decision on its pending entry and computes the
// aggregate expense outcome.
//
// At most one entry leaves pending per accepted call: the entry is located
// by (approverID, status=pending) and the caller must enforce the same
// precondition atomically against storage, so exactly one of two racing
// calls succeeds.
func (m *Machine) Apply(approverID string, decision Decision, comments string, now time.Time) (Outcome, error) {
	if !decision.IsValid() {
		return Outcome{}, ErrValidation
	}

	var acted *entity.ApprovalEntry
	for _, e := range m.entries {
		if e.ApproverID == approverID && e.Status == entity.EntryPending {
			acted = e
			break
		}
	}
	if acted == nil {
		return Outcome{}, ErrNotAuthorizedOrAlreadyActed
	}

	acted.Status = decision.EntryStatus()
	acted.Comments = comments
	acted.ActionAt = &now

	if m.ruleType == entity.RulePercentage || m.ruleType == entity.RuleHybrid {
		return m.percentageOutcome(comments), nil
	}
	return m.sequentialOutcome(decision, comments), nil
}

// sequentialOutcome implements the unanimous-approval policy: one rejection
// fails the whole request, approval completes once no required entry is
// still pending, otherwise advancement moves to the lowest-order pending
// entry.
func (m *Machine) sequentialOutcome(decision Decision, comments string) Outcome {
	if decision == DecisionReject {
		return Outcome{
			Status:          entity.ExpenseRejected,
			Terminal:        true,
			RejectionReason: comments,
		}
	}

	if m.pendingRequired() == 0 {
		return Outcome{Status: entity.ExpenseApproved, Terminal: true}
	}

	return Outcome{
		Status:            entity.ExpensePending,
		CurrentApproverID: InitialApproverID(m.ruleType, m.entries),
	}
}

// percentageOutcome recomputes approved/required against the minimum
// percentage. Under requireAll a single rejection is terminal. A chain with
// no pending entries left that never reached the threshold is rejected, so
// an exhausted chain cannot stay pending forever.
func (m *Machine) percentageOutcome(comments string) Outcome {
	countAll := !m.hasRequired()
	var required, approved, rejected, pending int
	for _, e := range m.entries {
		if !e.IsRequired && !countAll {
			continue
		}
		required++
		switch e.Status {
		case entity.EntryApproved:
			approved++
		case entity.EntryRejected:
			rejected++
		case entity.EntryPending:
			pending++
		}
	}

	if m.policy.RequireAll && rejected > 0 {
		return Outcome{
			Status:          entity.ExpenseRejected,
			Terminal:        true,
			RejectionReason: comments,
		}
	}

	if required > 0 && float64(approved)/float64(required)*100 >= m.policy.MinPercentage {
		return Outcome{Status: entity.ExpenseApproved, Terminal: true}
	}

	if pending == 0 {
		return Outcome{
			Status:          entity.ExpenseRejected,
			Terminal:        true,
			RejectionReason: "approval threshold not reached",
		}
	}

	out := Outcome{Status: entity.ExpensePending}
	if m.ruleType == entity.RuleHybrid {
		// Hybrid keeps an advisory current-approver pointer for routing
		// notifications; any pending holder may still act.
		out.CurrentApproverID = InitialApproverID(m.ruleType, m.entries)
	}
	return out
}

// pendingRequired counts the entries still gating completion. A chain that
// declares no required entries counts every entry, so one decision can never
// terminally resolve an untouched chain.
func (m *Machine) pendingRequired() int {
	countAll := !m.hasRequired()
	n := 0
	for _, e := range m.entries {
		if (e.IsRequired || countAll) && e.Status == entity.EntryPending {
			n++
		}
	}
	return n
}

func (m *Machine) hasRequired() bool {
	for _, e := range m.entries {
		if e.IsRequired {
			return true
		}
	}
	return false
}
