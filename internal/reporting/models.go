package reporting

import "time"

// DashboardStats is the admin overview. Every figure is read from its source
// at request time.
type DashboardStats struct {
	OnlineUsers int `json:"onlineUsers"`
	CallsToday  int `json:"callsToday"`
	// ActiveCalls counts ledger entries still ongoing.
	ActiveCalls int `json:"activeCalls"`

	ByStatus map[string]int `json:"byStatus"`

	GeneratedAt time.Time `json:"generatedAt"`
}

type DailyCalls struct {
	Day   string `json:"day"` // YYYY-MM-DD, UTC
	Count int    `json:"count"`
}

type DailyCallsReport struct {
	Days  []DailyCalls `json:"days"`
	Total int          `json:"total"`
}
