package service

import (
	"attribution/internal/types"
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeLinkCache struct {
	links map[string]*types.LinkCache
	err   error
	sets  int
}

func (f *fakeLinkCache) GetLink(_ context.Context, shortCode string) (*types.LinkCache, error) {
	if f.err != nil {
		return nil, f.err
	}
	link, ok := f.links[shortCode]
	if !ok {
		return nil, redis.Nil
	}
	return link, nil
}

func (f *fakeLinkCache) SetLink(_ context.Context, shortCode string, link *types.LinkCache, _ time.Duration) error {
	f.sets++
	f.links[shortCode] = link
	return nil
}

func TestBase62RoundTrip(t *testing.T) {
	for _, id := range []int64{0, 1, 61, 62, 3843, 1 << 40} {
		code := base62Encode(id)
		got, err := base62Decode(code)
		if err != nil {
			t.Fatalf("decode %q: %v", code, err)
		}
		if got != id {
			t.Fatalf("round trip of %d gave %d (code %q)", id, got, code)
		}
	}
}

func TestBase62DecodeRejectsInvalid(t *testing.T) {
	for _, code := range []string{"", "ab-c", "favicon.ico", "код"} {
		if _, err := base62Decode(code); !errors.Is(err, ErrInvalidCharacter) {
			t.Fatalf("%q: expected ErrInvalidCharacter, got %v", code, err)
		}
	}
}

func TestValidateLink(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"https://shop.example.com/pricing", true},
		{"http://localhost:8080/", true},
		{"ftp://files.example.com/", false},
		{"shop.example.com", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := ValidateLink(tt.raw)
		if tt.ok && err != nil {
			t.Fatalf("%q: unexpected error %v", tt.raw, err)
		}
		if !tt.ok && !errors.Is(err, ErrLinkNotValid) {
			t.Fatalf("%q: expected ErrLinkNotValid, got %v", tt.raw, err)
		}
	}
}

func TestTagURL(t *testing.T) {
	got, err := TagURL("https://shop.example.com/sale?utm_source=old&ref=1",
		CampaignTags{Source: "newsletter", Medium: " email ", Campaign: ""})
	if err != nil {
		t.Fatalf("TagURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse tagged url: %v", err)
	}
	q := u.Query()
	if q.Get("utm_source") != "newsletter" || q.Get("utm_medium") != "email" {
		t.Fatalf("tags not applied: %s", got)
	}
	if q.Has("utm_campaign") {
		t.Fatalf("empty campaign must not be added: %s", got)
	}
	if q.Get("ref") != "1" || u.Path != "/sale" {
		t.Fatalf("existing url parts lost: %s", got)
	}
}

func TestCreateCampaignLink(t *testing.T) {
	db := newFakeLinkDB()
	c := &fakeLinkCache{links: map[string]*types.LinkCache{}}
	linker := NewLinker(db, c)

	code, err := linker.CreateCampaignLink(context.Background(), 42, "https://shop.example.com/",
		CampaignTags{Source: "qr", Medium: "print", Campaign: "flyer"})
	if err != nil {
		t.Fatalf("CreateCampaignLink: %v", err)
	}
	if code != base62Encode(1) {
		t.Fatalf("unexpected code %q", code)
	}
	created := db.created[0]
	if created.UserID != 420 || *created.UtmSource != "qr" || *created.UtmCampaign != "flyer" {
		t.Fatalf("unexpected stored link %+v", created)
	}
	if c.links[code] == nil || c.links[code].OriginalLink != created.OriginalLink {
		t.Fatal("new link should be cached")
	}

	if _, err := linker.CreateCampaignLink(context.Background(), 42, "not a url", CampaignTags{}); !errors.Is(err, ErrLinkNotValid) {
		t.Fatalf("expected ErrLinkNotValid, got %v", err)
	}
}

func TestGetLinkCacheByCode(t *testing.T) {
	db := newFakeLinkDB()
	db.links["5"] = &types.LinkCache{OriginalLink: "https://shop.example.com/", UserID: 1}

	t.Run("warms cache on miss", func(t *testing.T) {
		c := &fakeLinkCache{links: map[string]*types.LinkCache{}}
		linker := NewLinker(db, c)

		for range 2 {
			link, err := linker.GetLinkCacheByCode(context.Background(), "5")
			if err != nil {
				t.Fatalf("GetLinkCacheByCode: %v", err)
			}
			if link.OriginalLink != "https://shop.example.com/" {
				t.Fatalf("unexpected link %+v", link)
			}
		}
		if c.sets != 1 {
			t.Fatalf("expected one cache fill, got %d", c.sets)
		}
	})

	t.Run("falls back to database on cache error", func(t *testing.T) {
		before := db.lookups
		c := &fakeLinkCache{links: map[string]*types.LinkCache{}, err: errors.New("connection reset")}
		if _, err := NewLinker(db, c).GetLinkCacheByCode(context.Background(), "5"); err != nil {
			t.Fatalf("GetLinkCacheByCode: %v", err)
		}
		if db.lookups != before+1 {
			t.Fatal("expected a database lookup")
		}
	})

	t.Run("rejects invalid code before lookup", func(t *testing.T) {
		before := db.lookups
		if _, err := NewLinker(db, nil).GetLinkCacheByCode(context.Background(), "a/b"); !errors.Is(err, ErrInvalidCharacter) {
			t.Fatalf("expected ErrInvalidCharacter, got %v", err)
		}
		if db.lookups != before {
			t.Fatal("invalid code must not reach the database")
		}
	})
}
