package types

import "time"

type TouchData struct {
	VisitorID string `json:"visitor_id"`
	ShortCode string `json:"short_code"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Touch     Touch  `json:"touch"`
}

type ChannelStat struct {
	Source string    `json:"source" db:"source"`
	Medium string    `json:"medium" db:"medium"`
	Count  uint64    `json:"count" db:"count"`
	LastAt time.Time `json:"last_at" db:"last_at"`
}
