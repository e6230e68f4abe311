package classifier

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const DefaultTablesVersion = "2025-01"

type Channel struct {
	Source string `yaml:"source"`
	Medium string `yaml:"medium"`
}

type ClickIDRule struct {
	Param   string `yaml:"param"`
	Channel `yaml:",inline"`
}

type PathRule struct {
	Contains string `yaml:"contains"`
	Medium   string `yaml:"medium"`
}

type SearchEngine struct {
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"`
}

type SocialNetwork struct {
	Name    string     `yaml:"name"`
	Domains []string   `yaml:"domains"`
	Paths   []PathRule `yaml:"paths"`
}

// Tables is the lookup data driving classification. A Classifier keeps
// its own copy, so callers may not mutate it after construction.
type Tables struct {
	Version              string            `yaml:"version"`
	SourceAliases        map[string]string `yaml:"source_aliases"`
	MediumAliases        map[string]string `yaml:"medium_aliases"`
	ClickIDs             []ClickIDRule     `yaml:"click_ids"`
	BusinessProfileParam string            `yaml:"business_profile_param"`
	SearchEngines        []SearchEngine    `yaml:"search_engines"`
	SocialNetworks       []SocialNetwork   `yaml:"social_networks"`
	EmailDomains         []string          `yaml:"email_domains"`
}

func DefaultTables() Tables {
	return Tables{
		Version: DefaultTablesVersion,
		SourceAliases: map[string]string{
			"fb":         "facebook",
			"face_book":  "facebook",
			"ig":         "instagram",
			"insta":      "instagram",
			"goog":       "google",
			"googleads":  "google",
			"google_ads": "google",
			"adwords":    "google",
			"li":         "linkedin",
			"tw":         "twitter",
			"x":          "twitter",
			"yt":         "youtube",
			"msn":        "bing",
			"microsoft":  "bing",
			"ddg":        "duckduckgo",
			"tt":         "tiktok",
		},
		MediumAliases: map[string]string{
			"ppc":            "cpc",
			"paidsearch":     "cpc",
			"paid-search":    "cpc",
			"sem":            "cpc",
			"paid-social":    "paid_social",
			"paidsocial":     "paid_social",
			"social-paid":    "paid_social",
			"organic-social": "organic_social",
			"social-media":   "social",
			"sm":             "social",
			"e-mail":         "email",
			"newsletter":     "email",
			"banner":         "display",
			"seo":            "organic",
			"none":           "(none)",
		},
		ClickIDs: []ClickIDRule{
			{Param: "gclid", Channel: Channel{"google", "cpc"}},
			{Param: "gbraid", Channel: Channel{"google", "cpc"}},
			{Param: "wbraid", Channel: Channel{"google", "cpc"}},
			{Param: "dclid", Channel: Channel{"google", "display"}},
			{Param: "fbclid", Channel: Channel{"facebook", "paid_social"}},
			{Param: "msclkid", Channel: Channel{"bing", "cpc"}},
			{Param: "ttclid", Channel: Channel{"tiktok", "paid_social"}},
			{Param: "li_fat_id", Channel: Channel{"linkedin", "paid_social"}},
			{Param: "twclid", Channel: Channel{"twitter", "paid_social"}},
			{Param: "epik", Channel: Channel{"pinterest", "paid_social"}},
			{Param: "sccid", Channel: Channel{"snapchat", "paid_social"}},
		},
		BusinessProfileParam: "pbid",
		SearchEngines: []SearchEngine{
			{Name: "google", Domains: []string{"google.*"}},
			{Name: "bing", Domains: []string{"bing.com", "cn.bing.com"}},
			{Name: "yahoo", Domains: []string{"search.yahoo.com", "yahoo.com"}},
			{Name: "duckduckgo", Domains: []string{"duckduckgo.com"}},
			{Name: "baidu", Domains: []string{"baidu.com"}},
			{Name: "yandex", Domains: []string{"yandex.ru", "yandex.com"}},
			{Name: "ecosia", Domains: []string{"ecosia.org"}},
			{Name: "ask", Domains: []string{"ask.com"}},
			{Name: "aol", Domains: []string{"search.aol.com"}},
			{Name: "naver", Domains: []string{"search.naver.com"}},
			{Name: "seznam", Domains: []string{"search.seznam.cz", "seznam.cz"}},
			{Name: "brave", Domains: []string{"search.brave.com"}},
		},
		SocialNetworks: []SocialNetwork{
			{
				Name:    "facebook",
				Domains: []string{"facebook.com", "m.facebook.com", "l.facebook.com", "lm.facebook.com", "fb.com"},
				Paths: []PathRule{
					{Contains: "/groups/", Medium: "group"},
					{Contains: "/marketplace/", Medium: "marketplace"},
				},
			},
			{Name: "instagram", Domains: []string{"instagram.com", "l.instagram.com"}},
			{
				Name:    "linkedin",
				Domains: []string{"linkedin.com", "lnkd.in"},
				Paths: []PathRule{
					{Contains: "/jobs/", Medium: "jobs"},
					{Contains: "/company/", Medium: "company"},
				},
			},
			{Name: "twitter", Domains: []string{"twitter.com", "x.com", "t.co"}},
			{Name: "youtube", Domains: []string{"youtube.com", "m.youtube.com", "youtu.be"}},
			{Name: "pinterest", Domains: []string{"pinterest.com"}},
			{Name: "reddit", Domains: []string{"reddit.com", "old.reddit.com"}},
			{Name: "tiktok", Domains: []string{"tiktok.com"}},
			{Name: "threads", Domains: []string{"threads.net"}},
			{Name: "snapchat", Domains: []string{"snapchat.com"}},
		},
		EmailDomains: []string{
			"mail.google.com",
			"outlook.live.com",
			"outlook.office.com",
			"outlook.office365.com",
			"mail.yahoo.com",
			"mail.aol.com",
			"mail.proton.me",
			"mail.zoho.com",
		},
	}
}

// LoadTables reads a YAML overlay and merges it onto DefaultTables.
// Alias maps are merged key by key; non-empty lists replace the defaults.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("read tables: %w", err)
	}
	return ParseTables(data)
}

func ParseTables(data []byte) (Tables, error) {
	var overlay Tables
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Tables{}, fmt.Errorf("decode tables: %w", err)
	}

	t := DefaultTables()
	if overlay.Version != "" {
		t.Version = overlay.Version
	}
	maps.Copy(t.SourceAliases, overlay.SourceAliases)
	maps.Copy(t.MediumAliases, overlay.MediumAliases)
	if len(overlay.ClickIDs) > 0 {
		t.ClickIDs = overlay.ClickIDs
	}
	if overlay.BusinessProfileParam != "" {
		t.BusinessProfileParam = overlay.BusinessProfileParam
	}
	if len(overlay.SearchEngines) > 0 {
		t.SearchEngines = overlay.SearchEngines
	}
	if len(overlay.SocialNetworks) > 0 {
		t.SocialNetworks = overlay.SocialNetworks
	}
	if len(overlay.EmailDomains) > 0 {
		t.EmailDomains = overlay.EmailDomains
	}
	return t, nil
}

func (t Tables) clone() Tables {
	c := t
	c.SourceAliases = maps.Clone(t.SourceAliases)
	c.MediumAliases = maps.Clone(t.MediumAliases)
	c.ClickIDs = slices.Clone(t.ClickIDs)
	c.SearchEngines = slices.Clone(t.SearchEngines)
	c.SocialNetworks = make([]SocialNetwork, len(t.SocialNetworks))
	for i, s := range t.SocialNetworks {
		s.Domains = slices.Clone(s.Domains)
		s.Paths = slices.Clone(s.Paths)
		c.SocialNetworks[i] = s
	}
	c.EmailDomains = slices.Clone(t.EmailDomains)
	return c
}
