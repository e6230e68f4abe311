package classifier

import (
	"attribution/internal/types"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

const (
	MediumOrganic  = "organic"
	MediumSocial   = "social"
	MediumReferral = "referral"
	MediumEmail    = "email"
)

var errNoHost = errors.New("referrer has no host")

var direct = Channel{Source: types.SourceDirect, Medium: types.MediumNone}

type Option func(*Classifier)

func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

func WithObserver(o types.Observer) Option {
	return func(c *Classifier) { c.observe = o }
}

type Classifier struct {
	tables  Tables
	now     func() time.Time
	observe types.Observer

	searchNames map[string]struct{}
	socialNames map[string]struct{}
}

func New(tables Tables, opts ...Option) *Classifier {
	c := &Classifier{
		tables:      tables.clone(),
		now:         time.Now,
		searchNames: make(map[string]struct{}),
		socialNames: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, e := range c.tables.SearchEngines {
		c.searchNames[e.Name] = struct{}{}
	}
	for _, s := range c.tables.SocialNetworks {
		c.socialNames[s.Name] = struct{}{}
	}
	return c
}

func (c *Classifier) Version() string {
	return c.tables.Version
}

// ContextFromURL builds a classification context from the full page URL.
// An unparseable page URL yields a context with only the referrer and
// user agent set.
func ContextFromURL(pageURL, referrer, userAgent string) types.Context {
	ctx := types.Context{
		Query:     url.Values{},
		Referrer:  referrer,
		Path:      "/",
		UserAgent: userAgent,
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return ctx
	}
	ctx.Query = u.Query()
	ctx.Host = u.Host
	if u.Path != "" {
		ctx.Path = u.Path
	}
	return ctx
}

func (c *Classifier) Classify(ctx types.Context) types.Touch {
	q := ctx.Query
	if q == nil {
		q = url.Values{}
	}

	ch, ok := c.fromCampaign(q)
	if !ok {
		ch, ok = c.fromClickID(q)
	}
	if !ok {
		ch, ok = c.fromBusinessProfile(q)
	}
	if !ok {
		ch = c.fromReferrer(ctx.Referrer, ctx.Host)
	}

	referrer := strings.TrimSpace(ctx.Referrer)
	if referrer == "" {
		referrer = types.ReferrerNone
	}
	landing := ctx.Path
	if landing == "" {
		landing = "/"
	}

	return types.Touch{
		Timestamp:   c.now().UTC(),
		Source:      ch.Source,
		Medium:      ch.Medium,
		Campaign:    param(q, "utm_campaign"),
		Content:     param(q, "utm_content"),
		Term:        param(q, "utm_term"),
		LandingPage: landing,
		Referrer:    referrer,
		ClickID:     c.clickID(q),
		DeviceType:  DeviceType(ctx.UserAgent),
	}
}

func (c *Classifier) fromCampaign(q url.Values) (Channel, bool) {
	source := c.normalizeSource(q.Get("utm_source"))
	medium := c.normalizeMedium(q.Get("utm_medium"))
	if source == "" {
		// a medium alone is not enough to name a source
		return Channel{}, false
	}
	if medium == "" {
		medium = c.inferMedium(source)
	}
	return Channel{Source: source, Medium: medium}, true
}

func (c *Classifier) fromClickID(q url.Values) (Channel, bool) {
	for _, rule := range c.tables.ClickIDs {
		if q.Get(rule.Param) != "" {
			return rule.Channel, true
		}
	}
	return Channel{}, false
}

func (c *Classifier) clickID(q url.Values) *string {
	for _, rule := range c.tables.ClickIDs {
		if v := q.Get(rule.Param); v != "" {
			return &v
		}
	}
	return nil
}

func (c *Classifier) fromBusinessProfile(q url.Values) (Channel, bool) {
	if c.tables.BusinessProfileParam == "" || q.Get(c.tables.BusinessProfileParam) == "" {
		return Channel{}, false
	}
	return Channel{Source: "google", Medium: "business_profile"}, true
}

func (c *Classifier) fromReferrer(referrer, currentHost string) Channel {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return direct
	}
	ref, err := parseReferrer(referrer)
	if err != nil {
		c.emit(types.Event{Kind: types.EventReferrerParse, Key: referrer, Err: err})
		return direct
	}
	host := normalizeHost(ref.Hostname())

	if ch, ok := googleChannel(host, ref); ok {
		return ch
	}
	for _, e := range c.tables.SearchEngines {
		if matchAny(host, e.Domains) {
			return Channel{Source: e.Name, Medium: MediumOrganic}
		}
	}
	for _, s := range c.tables.SocialNetworks {
		if !matchAny(host, s.Domains) {
			continue
		}
		for _, p := range s.Paths {
			if strings.Contains(ref.Path, p.Contains) {
				return Channel{Source: s.Name, Medium: p.Medium}
			}
		}
		return Channel{Source: s.Name, Medium: MediumSocial}
	}
	if matchAny(host, c.tables.EmailDomains) {
		return Channel{Source: MediumEmail, Medium: MediumEmail}
	}
	if currentHost != "" && host == normalizeHost(hostOnly(currentHost)) {
		return direct
	}
	return Channel{Source: host, Medium: MediumReferral}
}

// googleChannel handles Google properties whose medium depends on the
// subdomain, path or query of the referrer.
func googleChannel(host string, ref *url.URL) (Channel, bool) {
	switch {
	case host == "business.google.com":
		return Channel{Source: "google", Medium: "business_profile"}, true
	case host == "maps.google.com":
		return Channel{Source: "google", Medium: "maps"}, true
	case !strings.HasPrefix(host, "google."):
		return Channel{}, false
	}
	q := ref.Query()
	switch {
	case q.Has("ludocid"):
		return Channel{Source: "google", Medium: "local"}, true
	case strings.HasPrefix(ref.Path, "/maps"):
		return Channel{Source: "google", Medium: "maps"}, true
	case q.Has("kgmid"):
		return Channel{Source: "google", Medium: "knowledge_graph"}, true
	}
	return Channel{Source: "google", Medium: MediumOrganic}, true
}

func (c *Classifier) inferMedium(source string) string {
	if _, ok := c.searchNames[source]; ok {
		return MediumOrganic
	}
	if _, ok := c.socialNames[source]; ok {
		return MediumSocial
	}
	return MediumReferral
}

func (c *Classifier) normalizeSource(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if alias, ok := c.tables.SourceAliases[v]; ok {
		return alias
	}
	return v
}

func (c *Classifier) normalizeMedium(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if alias, ok := c.tables.MediumAliases[v]; ok {
		return alias
	}
	return v
}

func (c *Classifier) emit(e types.Event) {
	if c.observe != nil {
		c.observe(e)
	}
}

func parseReferrer(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, errNoHost
	}
	return u, nil
}

func param(q url.Values, key string) *string {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return nil
	}
	return &v
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSuffix(h, "."))
	return strings.TrimPrefix(h, "www.")
}

func hostOnly(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}

// matchAny reports whether host equals one of the patterns. A pattern
// ending in ".*" matches any top-level suffix, one starting with "*."
// matches any subdomain.
func matchAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if base, ok := strings.CutSuffix(p, ".*"); ok {
			if strings.HasPrefix(host, base+".") {
				return true
			}
			continue
		}
		if suffix, ok := strings.CutPrefix(p, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == p {
			return true
		}
	}
	return false
}
