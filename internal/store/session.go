package store

import (
	"attribution/internal/types"
	"context"
	"time"
)

// getOrInitSession returns the visitor's session with the current page
// view applied and reports whether a new session was started. A session
// expires once more than sessionTimeout has passed since it started.
func (s *Store) getOrInitSession(ctx context.Context, visitorID, path string, now time.Time) (types.SessionRecord, bool) {
	session := load[types.SessionRecord](ctx, s, visitorID, SessionPrefix+visitorID)
	view := types.PageView{Path: path, Timestamp: now}

	if session.Empty() || now.Sub(session.StartTime) > s.sessionTimeout {
		return types.SessionRecord{StartTime: now, PageViews: []types.PageView{view}}, true
	}

	if n := len(session.PageViews); n == 0 || session.PageViews[n-1].Path != path {
		session.PageViews = append(session.PageViews, view)
	}
	return session, false
}

// updateVisitorCounters creates the visitor record on the first visit and
// counts one visit and one touch for every later session.
func (s *Store) updateVisitorCounters(ctx context.Context, visitorID string, isNewSession bool, now time.Time) types.VisitorRecord {
	visitor := load[types.VisitorRecord](ctx, s, visitorID, VisitorPrefix+visitorID)
	if visitor.FirstSeen.IsZero() {
		return types.VisitorRecord{FirstSeen: now, VisitCount: 1, TouchCount: 1}
	}
	if isNewSession {
		visitor.VisitCount++
		visitor.TouchCount++
	}
	return visitor
}
