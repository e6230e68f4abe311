package bot

import (
	"attribution/internal/database"
	"attribution/internal/service"
	"attribution/internal/types"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const (
	requestTimeout = 5 * time.Second
	statsWindow    = 30 * 24 * time.Hour
)

type TelegramBot struct {
	tgBot    *tele.Bot
	db       *database.Database
	analytic *database.Analytics
	linker   *service.Linker
	baseURL  string
}

func NewTelegramBot(tgToken, baseURL string, db *database.Database, analytics *database.Analytics, linker *service.Linker) (*TelegramBot, error) {
	pref := tele.Settings{
		Token:  tgToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(pref)
	if err != nil {
		slog.Error("failed to initialize telegram bot", "error", err)
		return nil, err
	}

	b := &TelegramBot{
		tgBot:    bot,
		db:       db,
		analytic: analytics,
		linker:   linker,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}

	return b, nil
}

func (b *TelegramBot) Start(ctx context.Context) error {
	slog.Info("Telegram bot started", "bot_username", b.tgBot.Me.Username)

	b.tgBot.Handle("/start", b.handleStart)
	b.tgBot.Handle("/link", b.handleLink)
	b.tgBot.Handle("/stats", b.handleStats)
	b.tgBot.Handle("/conversions", b.handleConversions)
	b.tgBot.Handle(tele.OnText, b.handleMessage)

	go func() {
		<-ctx.Done()
		slog.Info("Telegram bot shutting down")
		b.tgBot.Stop()
	}()

	b.tgBot.Start()
	return nil
}

func (b *TelegramBot) handleStart(c tele.Context) error {
	slog.Debug("command /start received", "user_id", c.Sender().ID)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	err := b.db.CreateUser(ctx, c.Sender().ID)
	if err != nil {
		slog.Error("failed to create user", "user_id", c.Sender().ID, "error", err)
		return c.Send("Failed to register you, please try again later.")
	}
	return c.Send("Hi! Send me a link to shorten it, or tag it for a campaign:\n" +
		"/link <url> <source> <medium> [campaign]\n" +
		"/stats [code] shows touches per channel\n" +
		"/conversions shows last-touch channels of recent conversions")
}

func (b *TelegramBot) handleLink(c tele.Context) error {
	args := c.Args()
	if len(args) < 3 {
		return c.Send("Usage: /link <url> <source> <medium> [campaign]")
	}
	tags := service.CampaignTags{Source: args[1], Medium: args[2]}
	if len(args) > 3 {
		tags.Campaign = strings.Join(args[3:], "_")
	}
	return b.createLink(c, args[0], tags)
}

func (b *TelegramBot) handleMessage(c tele.Context) error {
	return b.createLink(c, strings.TrimSpace(c.Text()), service.CampaignTags{})
}

func (b *TelegramBot) createLink(c tele.Context, link string, tags service.CampaignTags) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	code, err := b.linker.CreateCampaignLink(ctx, c.Sender().ID, link, tags)
	if errors.Is(err, service.ErrLinkNotValid) {
		slog.Warn("invalid link received", "url", link, "user_id", c.Sender().ID)
		return c.Send("The link must start with http:// or https:// and contain a domain.")
	}
	if err != nil {
		slog.Error("failed to create short link", "error", err)
		return c.Send("Could not create the link. Please try again.")
	}
	return c.Send(fmt.Sprintf("Your tracked link:\n%s/%s\nQR code: %s/%s/qr", b.baseURL, code, b.baseURL, code))
}

func (b *TelegramBot) handleStats(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	code := ""
	if args := c.Args(); len(args) > 0 {
		code = args[0]
	}
	stats, err := b.analytic.ChannelBreakdown(ctx, code)
	if err != nil {
		slog.Error("failed to load channel stats", "code", code, "error", err)
		return c.Send("Could not load stats. Please try again later.")
	}
	return c.Send(FormatStats("Touches", stats))
}

func (b *TelegramBot) handleConversions(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	stats, err := b.db.ConversionsBySource(ctx, time.Now().Add(-statsWindow))
	if err != nil {
		slog.Error("failed to load conversion stats", "error", err)
		return c.Send("Could not load conversions. Please try again later.")
	}
	return c.Send(FormatStats("Conversions (30 days, last touch)", stats))
}

// FormatStats renders channel counts as one "source / medium: n" line each.
func FormatStats(title string, stats []types.ChannelStat) string {
	if len(stats) == 0 {
		return title + ": no data yet"
	}
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString(":")
	for _, s := range stats {
		fmt.Fprintf(&sb, "\n%s / %s: %d", s.Source, s.Medium, s.Count)
	}
	return sb.String()
}
