package store

import (
	"attribution/internal/classifier"
	"attribution/internal/types"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const sessionPathSeparator = " → "

// Params is the flattened attribution handed to form submissions.
type Params map[string]string

func (p Params) Values() url.Values {
	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, val)
	}
	return v
}

// Encode returns the params as a query string sorted by key.
func (p Params) Encode() string {
	return p.Values().Encode()
}

func BuildParams(snap types.Snapshot, conversionPath, userAgent string, now time.Time) Params {
	p := Params{}
	first, last := snap.Attribution.FirstTouch, snap.Attribution.LastTouch

	p["conversion_page"] = conversionPath

	paths := make([]string, len(snap.Session.PageViews))
	for i, pv := range snap.Session.PageViews {
		paths[i] = pv.Path
	}
	p["session_pages"] = strings.Join(paths, sessionPathSeparator)

	days := 0
	if first != nil {
		days = DaysSince(first.Timestamp, now)
	}
	p["days_to_convert"] = strconv.Itoa(days)
	if days == 0 {
		p["visitor_type"] = "new"
	} else {
		p["visitor_type"] = "returning"
	}

	p["total_touches"] = strconv.Itoa(atLeastOne(snap.Visitor.TouchCount))
	p["visit_count"] = strconv.Itoa(atLeastOne(snap.Visitor.VisitCount))
	p["pages_in_session"] = strconv.Itoa(atLeastOne(len(snap.Session.PageViews)))

	device := classifier.DeviceType(userAgent)
	firstDevice := device
	if first != nil && first.DeviceType != "" {
		firstDevice = first.DeviceType
	}
	p["conversion_device"] = device
	p["first_device"] = firstDevice
	if firstDevice != device {
		p["device_switch"] = "yes"
	} else {
		p["device_switch"] = "no"
	}

	addTouch(p, "ft_", first)
	addTouch(p, "lt_", last)
	return p
}

// DaysSince counts whole days from t to now, never negative.
func DaysSince(t, now time.Time) int {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func addTouch(p Params, prefix string, t *types.Touch) {
	if t == nil {
		return
	}
	p[prefix+"source"] = t.Source
	p[prefix+"medium"] = t.Medium
	p[prefix+"landing"] = t.LandingPage
	p[prefix+"timestamp"] = t.Timestamp.UTC().Format(time.RFC3339)
	p[prefix+"referrer"] = t.Referrer
	for key, v := range map[string]*string{
		"campaign": t.Campaign,
		"content":  t.Content,
		"term":     t.Term,
	} {
		if v != nil {
			p[prefix+key] = *v
		}
	}
}

func atLeastOne(n int) int {
	return max(n, 1)
}
