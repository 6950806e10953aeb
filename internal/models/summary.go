package models

import "time"

// ReportKind selects the period granularity of an AI-written summary.
type ReportKind string

const (
	ReportDaily   ReportKind = "daily"
	ReportMonthly ReportKind = "monthly"
	ReportYearly  ReportKind = "yearly"
)

// PeriodicSummary caches one generated spending report for a child and
// period. Content is the JSON document returned to callers.
type PeriodicSummary struct {
	ID        int64      `json:"id" db:"id"`
	ChildID   int64      `json:"child_id" db:"child_id"`
	ParentID  int64      `json:"parent_id" db:"parent_id"`
	Kind      ReportKind `json:"kind" db:"kind"`
	Year      int        `json:"year" db:"year"`
	Month     *int       `json:"month" db:"month"`
	Day       *int       `json:"day" db:"day"`
	Content   string     `json:"content" db:"content"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// AIUsageCounter tracks how often AI-backed report generation ran for an
// owner and period, capping regeneration to once per day.
type AIUsageCounter struct {
	ID           int64      `json:"id" db:"id"`
	OwnerID      int64      `json:"owner_id" db:"owner_id"`
	Kind         ReportKind `json:"kind" db:"kind"`
	Year         int        `json:"year" db:"year"`
	Month        *int       `json:"month" db:"month"`
	Day          *int       `json:"day" db:"day"`
	Calls        int        `json:"calls" db:"calls"`
	LastCalledAt time.Time  `json:"last_called_at" db:"last_called_at"`
}

// CalledToday reports whether the counter recorded a call on the given day.
func (c *AIUsageCounter) CalledToday(now time.Time) bool {
	y1, m1, d1 := c.LastCalledAt.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
