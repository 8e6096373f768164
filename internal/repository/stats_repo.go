package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StatsOverview aggregates an approver's historical decisions.
type StatsOverview struct {
	TotalApprovals     int     `json:"total_approvals"`
	ApprovedCount      int     `json:"approved_count"`
	RejectedCount      int     `json:"rejected_count"`
	PendingCount       int     `json:"pending_count"`
	AvgProcessingHours float64 `json:"average_processing_time"`
}

// MonthlyTrend counts decisions per calendar month.
type MonthlyTrend struct {
	Month    string `json:"month"`
	Approved int    `json:"approved"`
	Rejected int    `json:"rejected"`
}

// StatsRepository runs read-only aggregations over approval entries.
type StatsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *sql.DB, logger *zap.Logger) *StatsRepository {
	return &StatsRepository{db: db, logger: logger}
}

// Overview aggregates counts by entry status and the mean hours between
// expense creation and decision for one approver. The date range filters on
// action time; zero times disable the bound.
func (r *StatsRepository) Overview(ctx context.Context, approverID string, start, end time.Time) (StatsOverview, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN a.status = 'approved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN a.status = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN a.status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN a.action_at IS NOT NULL
				THEN (julianday(a.action_at) - julianday(e.created_at)) * 24.0
				END), 0)
		FROM approval_entries a
		JOIN expenses e ON e.id = a.expense_id
		WHERE a.approver_id = ?
	` + dateRangeClause(start, end)

	args := []interface{}{approverID}
	args = appendRangeArgs(args, start, end)

	var o StatsOverview
	err := executorFrom(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&o.TotalApprovals, &o.ApprovedCount, &o.RejectedCount, &o.PendingCount, &o.AvgProcessingHours,
	)
	if err != nil {
		r.logger.Error("Failed to compute stats overview",
			zap.String("approver_id", approverID), zap.Error(err))
		return StatsOverview{}, fmt.Errorf("stats overview: %w", err)
	}
	return o, nil
}

// MonthlyTrends groups decided entries by month of action.
func (r *StatsRepository) MonthlyTrends(ctx context.Context, approverID string, start, end time.Time) ([]MonthlyTrend, error) {
	query := `
		SELECT
			strftime('%Y-%m', a.action_at),
			SUM(CASE WHEN a.status = 'approved' THEN 1 ELSE 0 END),
			SUM(CASE WHEN a.status = 'rejected' THEN 1 ELSE 0 END)
		FROM approval_entries a
		WHERE a.approver_id = ? AND a.action_at IS NOT NULL
	` + dateRangeClause(start, end) + `
		GROUP BY strftime('%Y-%m', a.action_at)
		ORDER BY strftime('%Y-%m', a.action_at) ASC
	`

	args := []interface{}{approverID}
	args = appendRangeArgs(args, start, end)

	rows, err := executorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monthly trends: %w", err)
	}
	defer rows.Close()

	var trends []MonthlyTrend
	for rows.Next() {
		var t MonthlyTrend
		if err := rows.Scan(&t.Month, &t.Approved, &t.Rejected); err != nil {
			return nil, fmt.Errorf("scan monthly trend: %w", err)
		}
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

func dateRangeClause(start, end time.Time) string {
	clause := ""
	if !start.IsZero() {
		clause += " AND a.action_at >= ?"
	}
	if !end.IsZero() {
		clause += " AND a.action_at <= ?"
	}
	return clause
}

func appendRangeArgs(args []interface{}, start, end time.Time) []interface{} {
	if !start.IsZero() {
		args = append(args, start)
	}
	if !end.IsZero() {
		args = append(args, end)
	}
	return args
}
