package types

import "time"

type AttributionRecord struct {
	FirstTouch *Touch `json:"firstTouch,omitempty"`
	LastTouch  *Touch `json:"lastTouch,omitempty"`
}

type PageView struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

type SessionRecord struct {
	StartTime time.Time  `json:"startTime"`
	PageViews []PageView `json:"pageViews"`
}

func (s SessionRecord) Empty() bool {
	return s.StartTime.IsZero() && len(s.PageViews) == 0
}

type VisitorRecord struct {
	FirstSeen  time.Time `json:"firstSeen"`
	VisitCount int       `json:"visitCount"`
	TouchCount int       `json:"touchCount"`
}

// Snapshot is the persisted state of one visitor.
type Snapshot struct {
	Attribution AttributionRecord `json:"attribution"`
	Session     SessionRecord     `json:"session"`
	Visitor     VisitorRecord     `json:"visitor"`
}

// View is the merged state returned after recording a touch.
type View struct {
	Snapshot
	Touch      Touch `json:"touch"`
	NewSession bool  `json:"new_session"`
}
