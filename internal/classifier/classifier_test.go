package classifier

import (
	"attribution/internal/types"
	"net/url"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 1, 3, 17, 53, 14, 0, time.UTC)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	return New(DefaultTables(), WithClock(func() time.Time { return fixedNow }))
}

func query(t *testing.T, raw string) url.Values {
	t.Helper()
	q, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("parse query %q: %v", raw, err)
	}
	return q
}

func TestClassifyChannels(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name     string
		query    string
		referrer string
		source   string
		medium   string
	}{
		{"direct", "", "", "(direct)", "(none)"},
		{"utm paid search", "utm_source=google&utm_medium=cpc&utm_campaign=brand", "", "google", "cpc"},
		{"utm aliases folded", "utm_source=FB&utm_medium=Paid-Social", "", "facebook", "paid_social"},
		{"utm ppc alias", "utm_source=google&utm_medium=ppc", "", "google", "cpc"},
		{"utm source only search", "utm_source=bing", "", "bing", "organic"},
		{"utm source only social", "utm_source=ig", "", "instagram", "social"},
		{"utm source only unknown", "utm_source=partnerblog", "", "partnerblog", "referral"},
		{"utm medium only falls through", "utm_medium=email", "", "(direct)", "(none)"},
		{"utm beats click id", "utm_source=newsletter&utm_medium=email&gclid=abc", "", "newsletter", "email"},
		{"gclid", "gclid=abc123", "", "google", "cpc"},
		{"fbclid", "fbclid=xyz", "https://l.facebook.com/", "facebook", "paid_social"},
		{"msclkid", "msclkid=1", "", "bing", "cpc"},
		{"dclid", "dclid=1", "", "google", "display"},
		{"first click id wins", "fbclid=a&gclid=b", "", "google", "cpc"},
		{"business profile", "pbid=123", "", "google", "business_profile"},
		{"click id before business profile", "pbid=1&msclkid=2", "", "bing", "cpc"},
		{"google organic", "", "https://www.google.com/search?q=x", "google", "organic"},
		{"google country tld", "", "https://www.google.co.uk/", "google", "organic"},
		{"google maps path", "", "https://www.google.com/maps/place/x", "google", "maps"},
		{"google maps host", "", "https://maps.google.com/", "google", "maps"},
		{"google local", "", "https://www.google.com/?ludocid=42", "google", "local"},
		{"google knowledge graph", "", "https://www.google.com/search?kgmid=/m/1", "google", "knowledge_graph"},
		{"google business", "", "https://business.google.com/dashboard", "google", "business_profile"},
		{"bing organic", "", "https://www.bing.com/search?q=x", "bing", "organic"},
		{"duckduckgo organic", "", "https://duckduckgo.com/", "duckduckgo", "organic"},
		{"facebook social", "", "https://www.facebook.com/", "facebook", "social"},
		{"facebook group", "", "https://www.facebook.com/groups/xyz", "facebook", "group"},
		{"facebook marketplace", "", "https://m.facebook.com/marketplace/item/1", "facebook", "marketplace"},
		{"linkedin jobs", "", "https://www.linkedin.com/jobs/view/1", "linkedin", "jobs"},
		{"linkedin company", "", "https://www.linkedin.com/company/acme", "linkedin", "company"},
		{"linkedin feed", "", "https://www.linkedin.com/feed/", "linkedin", "social"},
		{"twitter short links", "", "https://t.co/abc", "twitter", "social"},
		{"gmail", "", "https://mail.google.com/mail/u/0/", "email", "email"},
		{"outlook", "", "https://outlook.live.com/mail/", "email", "email"},
		{"internal navigation", "", "https://shop.example.com/cart", "(direct)", "(none)"},
		{"internal navigation with www", "", "https://www.shop.example.com/", "(direct)", "(none)"},
		{"external referral", "", "https://news.ycombinator.com/item?id=1", "news.ycombinator.com", "referral"},
		{"referral strips www", "", "https://www.partner.io/post", "partner.io", "referral"},
		{"garbage referrer", "", "not a url", "(direct)", "(none)"},
		{"referrer without scheme", "", "google.com/search", "(direct)", "(none)"},
		{"referrer bad escape", "", "http://%zz", "(direct)", "(none)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			touch := c.Classify(types.Context{
				Query:    query(t, tt.query),
				Referrer: tt.referrer,
				Path:     "/landing",
				Host:     "shop.example.com",
			})
			if touch.Source != tt.source || touch.Medium != tt.medium {
				t.Fatalf("expected %s/%s, got %s/%s", tt.source, tt.medium, touch.Source, touch.Medium)
			}
		})
	}
}

func TestClassifyTouchFields(t *testing.T) {
	c := newTestClassifier(t)

	touch := c.Classify(types.Context{
		Query:     query(t, "utm_source=google&utm_medium=cpc&utm_campaign=brand&utm_content=responsive&utm_term=+shoes+&gclid=abc123"),
		Path:      "/pricing",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148 Safari/604.1",
	})

	if !touch.Timestamp.Equal(fixedNow) {
		t.Fatalf("expected timestamp %v, got %v", fixedNow, touch.Timestamp)
	}
	if touch.Campaign == nil || *touch.Campaign != "brand" {
		t.Fatalf("expected campaign brand, got %v", touch.Campaign)
	}
	if touch.Content == nil || *touch.Content != "responsive" {
		t.Fatalf("expected content responsive, got %v", touch.Content)
	}
	if touch.Term == nil || *touch.Term != "shoes" {
		t.Fatalf("expected trimmed term, got %v", touch.Term)
	}
	if touch.ClickID == nil || *touch.ClickID != "abc123" {
		t.Fatalf("expected click id abc123, got %v", touch.ClickID)
	}
	if touch.LandingPage != "/pricing" {
		t.Fatalf("expected landing /pricing, got %q", touch.LandingPage)
	}
	if touch.Referrer != types.ReferrerNone {
		t.Fatalf("expected direct referrer sentinel, got %q", touch.Referrer)
	}
	if touch.DeviceType != types.DeviceMobile {
		t.Fatalf("expected mobile, got %q", touch.DeviceType)
	}
}

func TestClassifyGclidScenario(t *testing.T) {
	c := newTestClassifier(t)

	touch := c.Classify(ContextFromURL("https://shop.example.com/?gclid=abc123", "", ""))
	if touch.Source != "google" || touch.Medium != "cpc" {
		t.Fatalf("expected google/cpc, got %s/%s", touch.Source, touch.Medium)
	}
	if touch.ClickID == nil || *touch.ClickID != "abc123" {
		t.Fatalf("expected click id abc123, got %v", touch.ClickID)
	}
	if touch.Campaign != nil || touch.Content != nil || touch.Term != nil {
		t.Fatalf("expected empty utm fields, got %+v", touch)
	}
}

func TestClassifyNeverEmpty(t *testing.T) {
	c := newTestClassifier(t)

	contexts := []types.Context{
		{},
		{Query: url.Values{"utm_source": {"   "}}},
		{Query: url.Values{"utm_medium": {"cpc"}}},
		{Referrer: "://"},
		{Referrer: "https://"},
		{Referrer: "mailto:someone@example.com"},
	}
	for _, ctx := range contexts {
		touch := c.Classify(ctx)
		if touch.Source == "" || touch.Medium == "" {
			t.Fatalf("empty channel for %+v: %+v", ctx, touch)
		}
		if touch.LandingPage == "" || touch.Referrer == "" || touch.DeviceType == "" {
			t.Fatalf("unset sentinel for %+v: %+v", ctx, touch)
		}
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := newTestClassifier(t)
	ctx := ContextFromURL("https://shop.example.com/a?utm_source=news&utm_campaign=x", "https://www.reddit.com/r/go", "")

	first := c.Classify(ctx)
	second := c.Classify(ctx)
	if first.Source != second.Source || first.Medium != second.Medium ||
		*first.Campaign != *second.Campaign || first.LandingPage != second.LandingPage ||
		first.Referrer != second.Referrer {
		t.Fatalf("classification not stable: %+v vs %+v", first, second)
	}
}

func TestClassifyReportsReferrerParseFailure(t *testing.T) {
	var events []types.Event
	c := New(DefaultTables(), WithObserver(func(e types.Event) { events = append(events, e) }))

	c.Classify(types.Context{Referrer: "not a url"})
	if len(events) != 1 || events[0].Kind != types.EventReferrerParse {
		t.Fatalf("expected one parse event, got %+v", events)
	}
}

func TestClassifierCopiesTables(t *testing.T) {
	tables := DefaultTables()
	c := New(tables)

	tables.SourceAliases["fb"] = "mutated"
	tables.ClickIDs[0].Source = "mutated"

	touch := c.Classify(types.Context{Query: url.Values{"utm_source": {"fb"}, "utm_medium": {"social"}}})
	if touch.Source != "facebook" {
		t.Fatalf("expected classifier to keep its own aliases, got %q", touch.Source)
	}
	touch = c.Classify(types.Context{Query: url.Values{"gclid": {"1"}}})
	if touch.Source != "google" {
		t.Fatalf("expected classifier to keep its own click ids, got %q", touch.Source)
	}
}

func TestContextFromURL(t *testing.T) {
	ctx := ContextFromURL("https://shop.example.com:8443/checkout?utm_source=x", "https://ref.io/", "ua")
	if ctx.Host != "shop.example.com:8443" || ctx.Path != "/checkout" || ctx.Query.Get("utm_source") != "x" {
		t.Fatalf("unexpected context %+v", ctx)
	}

	touch := newTestClassifier(t).Classify(ContextFromURL("https://shop.example.com:8443/", "https://shop.example.com/prev", ""))
	if !touch.IsDirect() {
		t.Fatalf("expected internal navigation across ports to be direct, got %s/%s", touch.Source, touch.Medium)
	}

	ctx = ContextFromURL("%%%", "", "")
	if ctx.Path != "/" || ctx.Query == nil {
		t.Fatalf("expected defaults for bad page url, got %+v", ctx)
	}
}
