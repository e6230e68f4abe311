package service

import (
	"attribution/internal/types"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	alphabet     = "0123456789qwertyuiopasdfghjklzxcvbnmMNBVCXZLKJHGFDQASWERTYUIOP"
	linkCacheTTL = 10 * time.Minute
)

var (
	ErrInvalidCharacter = errors.New("invalid character")
	ErrLinkNotValid     = errors.New("link not valid")
)

type LinkDB interface {
	CreateUser(ctx context.Context, telegramID int64) error
	GetUserIDByTelegramID(ctx context.Context, telegramID int64) (int64, error)
	CreateLink(ctx context.Context, link types.CampaignLink) (int64, error)
	SetShortCode(ctx context.Context, linkID int64, code string) error
	GetLink(ctx context.Context, shortCode string) (*types.LinkCache, error)
}

type LinkCache interface {
	GetLink(ctx context.Context, shortCode string) (*types.LinkCache, error)
	SetLink(ctx context.Context, shortCode string, link *types.LinkCache, expiration time.Duration) error
}

// CampaignTags are the UTM values appended to a campaign link destination.
type CampaignTags struct {
	Source   string
	Medium   string
	Campaign string
}

type Linker struct {
	database LinkDB
	cache    LinkCache
}

// NewLinker returns a Linker; cache may be nil, in which case every lookup
// goes to the database.
func NewLinker(database LinkDB, cache LinkCache) *Linker {
	return &Linker{database: database, cache: cache}
}

func (l *Linker) CreateCampaignLink(ctx context.Context, telegramID int64, originalLink string, tags CampaignTags) (string, error) {
	destination, err := TagURL(originalLink, tags)
	if err != nil {
		return "", err
	}

	if err := l.database.CreateUser(ctx, telegramID); err != nil {
		return "", err
	}
	userID, err := l.database.GetUserIDByTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}
	linkID, err := l.database.CreateLink(ctx, types.CampaignLink{
		UserID:       userID,
		OriginalLink: destination,
		UtmSource:    optional(tags.Source),
		UtmMedium:    optional(tags.Medium),
		UtmCampaign:  optional(tags.Campaign),
	})
	if err != nil {
		return "", err
	}
	code := base62Encode(linkID)
	if err := l.database.SetShortCode(ctx, linkID, code); err != nil {
		return "", err
	}
	if l.cache != nil {
		if err := l.cache.SetLink(ctx, code, &types.LinkCache{OriginalLink: destination, UserID: userID}, linkCacheTTL); err != nil {
			slog.Warn("Failed to cache new link", "code", code, "error", err)
		}
	}
	return code, nil
}

func (l *Linker) GetLinkCacheByCode(ctx context.Context, shortCode string) (*types.LinkCache, error) {
	if _, err := base62Decode(shortCode); err != nil {
		return nil, err
	}

	if l.cache != nil {
		link, err := l.cache.GetLink(ctx, shortCode)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Redis error", "error", err)
		}
	}

	link, err := l.database.GetLink(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.SetLink(ctx, shortCode, link, linkCacheTTL); err != nil {
			slog.Warn("Failed to warm up cache", "error", err)
		}
	}
	return link, nil
}

// ValidateLink accepts absolute http(s) URLs with a host.
func ValidateLink(raw string) (*url.URL, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return nil, ErrLinkNotValid
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrLinkNotValid
	}
	return u, nil
}

// TagURL sets the non-empty campaign tags on the link's query string,
// replacing existing values.
func TagURL(raw string, tags CampaignTags) (string, error) {
	u, err := ValidateLink(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key, v := range map[string]string{
		"utm_source":   tags.Source,
		"utm_medium":   tags.Medium,
		"utm_campaign": tags.Campaign,
	} {
		if v = strings.TrimSpace(v); v != "" {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func base62Encode(linkID int64) string {
	if linkID == 0 {
		return string(alphabet[0])
	}

	res := make([]byte, 0, 12)

	for linkID > 0 {
		res = append(res, alphabet[linkID%62])
		linkID /= 62
	}
	slices.Reverse(res)
	return string(res)
}

func base62Decode(shortCode string) (int64, error) {
	if shortCode == "" {
		return 0, ErrInvalidCharacter
	}

	var res int64

	for _, char := range shortCode {
		index := strings.IndexRune(alphabet, char)

		if index == -1 {
			return 0, ErrInvalidCharacter
		}

		res = res*62 + int64(index)
	}

	return res, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
