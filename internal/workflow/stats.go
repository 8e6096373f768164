package workflow

import (
	"context"
	"time"

	"github.com/expenseflow/expenseflow/internal/repository"
)

// ApprovalStats is the read-only aggregation over an approver's history.
type ApprovalStats struct {
	Overview      repository.StatsOverview  `json:"overview"`
	MonthlyTrends []repository.MonthlyTrend `json:"monthlyTrends"`
}

// ComputeApprovalStats aggregates counts by terminal status and mean
// time-to-decision for one approver. No state is mutated.
func (c *Controller) ComputeApprovalStats(ctx context.Context, approverID string, start, end time.Time) (*ApprovalStats, error) {
	overview, err := c.stats.Overview(ctx, approverID, start, end)
	if err != nil {
		return nil, err
	}
	trends, err := c.stats.MonthlyTrends(ctx, approverID, start, end)
	if err != nil {
		return nil, err
	}
	if trends == nil {
		trends = []repository.MonthlyTrend{}
	}
	return &ApprovalStats{Overview: overview, MonthlyTrends: trends}, nil
}
