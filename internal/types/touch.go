package types

import (
	"net/url"
	"time"
)

const (
	SourceDirect = "(direct)"
	MediumNone   = "(none)"
	ReferrerNone = "(direct)"
)

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Touch is one classified page view.
type Touch struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Medium      string    `json:"medium"`
	Campaign    *string   `json:"campaign"`
	Content     *string   `json:"content"`
	Term        *string   `json:"term"`
	LandingPage string    `json:"landing_page"`
	Referrer    string    `json:"referrer"`
	ClickID     *string   `json:"click_id"`
	DeviceType  string    `json:"device_type"`
}

func (t Touch) IsDirect() bool {
	return t.Source == SourceDirect && t.Medium == MediumNone
}

// Context is the navigation a touch is classified from.
type Context struct {
	Query     url.Values
	Referrer  string
	Path      string
	Host      string
	UserAgent string
}
