package models

import "fmt"

// Scheduled job names
const (
	JobBalanceReminder  = "balance_reminder"
	JobDailyMaintenance = "daily_maintenance"
)

// ScheduledJob is a unit of delayed work
type ScheduledJob struct {
	Name    string `json:"name"`
	OrderID int64  `json:"order_id,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	// IntervalSeconds re-arms the job after it runs when positive
	IntervalSeconds int64 `json:"interval_seconds,omitempty"`
}

// Key identifies a job; scheduling a job whose key is pending is a no-op
func (j ScheduledJob) Key() string {
	if j.Name == JobBalanceReminder {
		return fmt.Sprintf("%s:%d:%d", j.Name, j.OrderID, j.Offset)
	}
	return j.Name
}

// DueJob is a job popped from the schedule together with its planned run time
type DueJob struct {
	Job   ScheduledJob
	RunAt int64
}
