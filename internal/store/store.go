package store

//go:generate mockgen -destination=mocks/kv_mock.go -package=mocks attribution/internal/store KV,SweepingKV

import (
	"attribution/internal/types"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"
)

const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultKeepPageViews  = 10
	DefaultMaxRecordAge   = 90 * 24 * time.Hour
)

const (
	AttributionPrefix = "attribution_data:"
	SessionPrefix     = "attribution_session:"
	VisitorPrefix     = "visitor_data:"

	probeKey = "attribution_probe"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KV is the key-value storage the store persists visitor records in.
// Get returns ErrNotFound for missing keys; Set returns an error wrapping
// ErrQuotaExceeded when the backend is out of space.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by backends that can drop entries in bulk.
// Sweep deletes every entry under prefix for which drop returns true.
type Sweeper interface {
	Sweep(ctx context.Context, prefix string, drop func(value []byte) bool) (int, error)
}

type SweepingKV interface {
	KV
	Sweeper
}

type Classifier interface {
	Classify(types.Context) types.Touch
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithSessionTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sessionTimeout = d
		}
	}
}

func WithKeepPageViews(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.keepPageViews = n
		}
	}
}

func WithMaxRecordAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxRecordAge = d
		}
	}
}

// WithAttributionWindows lets a touch replace a last touch whose
// attribution window has elapsed, whatever their ranks.
func WithAttributionWindows(enabled bool) Option {
	return func(s *Store) { s.windows = enabled }
}

func WithObserver(o types.Observer) Option {
	return func(s *Store) { s.observe = o }
}

type Store struct {
	kv         KV
	classifier Classifier
	now        func() time.Time
	observe    types.Observer

	sessionTimeout time.Duration
	keepPageViews  int
	maxRecordAge   time.Duration
	windows        bool

	offline atomic.Bool
}

func New(kv KV, classifier Classifier, opts ...Option) *Store {
	s := &Store{
		kv:             kv,
		classifier:     classifier,
		now:            time.Now,
		sessionTimeout: DefaultSessionTimeout,
		keepPageViews:  DefaultKeepPageViews,
		maxRecordAge:   DefaultMaxRecordAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Probe checks that the backend accepts a write, a read and a delete.
// A failed probe switches the store to offline mode: reads return empty
// records and writes are skipped until the next successful probe.
func (s *Store) Probe(ctx context.Context) error {
	err := s.probe(ctx)
	s.offline.Store(err != nil)
	if err != nil {
		s.emit(types.Event{Kind: types.EventStorageOffline, Key: probeKey, Err: err})
	}
	return err
}

func (s *Store) probe(ctx context.Context) error {
	if err := s.kv.Set(ctx, probeKey, []byte("1")); err != nil {
		return err
	}
	if _, err := s.kv.Get(ctx, probeKey); err != nil {
		return err
	}
	return s.kv.Delete(ctx, probeKey)
}

func (s *Store) Available() bool {
	return !s.offline.Load()
}

// RecordTouch classifies the page view and folds it into the visitor's
// records. It never fails: storage problems degrade to a view built from
// whatever could be read plus the current touch.
func (s *Store) RecordTouch(ctx context.Context, visitorID string, pc types.Context) types.View {
	now := s.now()
	touch := s.classifier.Classify(pc)

	if s.offline.Load() {
		return offlineView(touch, now)
	}

	session, isNew := s.getOrInitSession(ctx, visitorID, touch.LandingPage, now)
	if isNew {
		s.emit(types.Event{Kind: types.EventNewSession, VisitorID: visitorID})
	}
	visitor := s.updateVisitorCounters(ctx, visitorID, isNew, now)

	record := load[types.AttributionRecord](ctx, s, visitorID, AttributionPrefix+visitorID)
	if record.FirstTouch == nil {
		record.FirstTouch = &touch
		s.emit(types.Event{Kind: types.EventFirstTouch, VisitorID: visitorID})
	}
	if (isNew || record.LastTouch == nil) && s.shouldReplace(touch, record.LastTouch, now) {
		record.LastTouch = &touch
		s.emit(types.Event{Kind: types.EventLastTouch, VisitorID: visitorID})
	}

	view := types.View{
		Snapshot: types.Snapshot{
			Attribution: record,
			Session:     session,
			Visitor:     visitor,
		},
		Touch:      touch,
		NewSession: isNew,
	}
	s.save(ctx, visitorID, view.Snapshot)
	return view
}

// Snapshot reads the visitor's records without modifying them.
func (s *Store) Snapshot(ctx context.Context, visitorID string) types.Snapshot {
	if s.offline.Load() {
		return types.Snapshot{}
	}
	return types.Snapshot{
		Attribution: load[types.AttributionRecord](ctx, s, visitorID, AttributionPrefix+visitorID),
		Session:     load[types.SessionRecord](ctx, s, visitorID, SessionPrefix+visitorID),
		Visitor:     load[types.VisitorRecord](ctx, s, visitorID, VisitorPrefix+visitorID),
	}
}

// Params reads the visitor's records and flattens them for a form
// submitted from conversionPath.
func (s *Store) Params(ctx context.Context, visitorID, conversionPath, userAgent string) Params {
	return BuildParams(s.Snapshot(ctx, visitorID), conversionPath, userAgent, s.now())
}

func (s *Store) save(ctx context.Context, visitorID string, snap types.Snapshot) {
	session := snap.Session
	entries := []struct {
		key   string
		value func() any
	}{
		{SessionPrefix + visitorID, func() any { return session }},
		{VisitorPrefix + visitorID, func() any { return snap.Visitor }},
		{AttributionPrefix + visitorID, func() any { return snap.Attribution }},
	}

	cleaned := false
	for _, e := range entries {
		err := s.set(ctx, visitorID, e.key, e.value())
		if err == nil {
			continue
		}
		if errors.Is(err, ErrQuotaExceeded) && !cleaned {
			cleaned = true
			session = s.cleanup(ctx, visitorID, session)
			if err = s.set(ctx, visitorID, e.key, e.value()); err == nil {
				continue
			}
		}
		s.emit(types.Event{Kind: types.EventWriteDropped, VisitorID: visitorID, Key: e.key, Err: err})
	}
}

// cleanup frees space after a quota error: the session keeps only its
// most recent page views and, when the backend supports sweeping,
// attribution records untouched for longer than maxRecordAge are dropped.
func (s *Store) cleanup(ctx context.Context, visitorID string, session types.SessionRecord) types.SessionRecord {
	if n := len(session.PageViews); n > s.keepPageViews {
		session.PageViews = session.PageViews[n-s.keepPageViews:]
		if err := s.set(ctx, visitorID, SessionPrefix+visitorID, session); err != nil {
			s.emit(types.Event{Kind: types.EventWriteFailed, VisitorID: visitorID, Key: SessionPrefix + visitorID, Err: err})
		}
	}

	dropped := 0
	if sw, ok := s.kv.(Sweeper); ok {
		cutoff := s.now().Add(-s.maxRecordAge)
		n, err := sw.Sweep(ctx, AttributionPrefix, func(value []byte) bool {
			var rec types.AttributionRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return true
			}
			return stale(rec, cutoff)
		})
		if err != nil {
			s.emit(types.Event{Kind: types.EventWriteFailed, VisitorID: visitorID, Key: AttributionPrefix, Err: err})
		}
		dropped = n
	}
	s.emit(types.Event{Kind: types.EventCleanup, VisitorID: visitorID, Key: AttributionPrefix, Count: dropped})
	return session
}

func stale(rec types.AttributionRecord, cutoff time.Time) bool {
	latest := rec.LastTouch
	if latest == nil {
		latest = rec.FirstTouch
	}
	return latest == nil || latest.Timestamp.Before(cutoff)
}

func (s *Store) set(ctx context.Context, visitorID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		s.emit(types.Event{Kind: types.EventEncodeFailed, VisitorID: visitorID, Key: key, Err: err})
		data = []byte("{}")
	}
	return s.kv.Set(ctx, key, data)
}

// load reads and decodes key, returning the zero value when the entry is
// missing, unreadable or malformed.
func load[T any](ctx context.Context, s *Store, visitorID, key string) T {
	var v T
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.emit(types.Event{Kind: types.EventReadFailed, VisitorID: visitorID, Key: key, Err: err})
		}
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		s.emit(types.Event{Kind: types.EventDecodeFailed, VisitorID: visitorID, Key: key, Err: err})
		var zero T
		return zero
	}
	return v
}

func (s *Store) emit(e types.Event) {
	if s.observe != nil {
		s.observe(e)
	}
}

func offlineView(touch types.Touch, now time.Time) types.View {
	return types.View{
		Snapshot: types.Snapshot{
			Attribution: types.AttributionRecord{FirstTouch: &touch, LastTouch: &touch},
			Session: types.SessionRecord{
				StartTime: now,
				PageViews: []types.PageView{{Path: touch.LandingPage, Timestamp: now}},
			},
			Visitor: types.VisitorRecord{FirstSeen: now, VisitCount: 1, TouchCount: 1},
		},
		Touch:      touch,
		NewSession: true,
	}
}
