package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"carscout/internal/models"
	"carscout/internal/pipeline"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram bots are throttled to roughly 30 messages per second overall.
// Pacing below that keeps bursts of matches from tripping the API limit.
const messagesPerSecond = 20

// Telegram delivers match notifications to chat owners via the bot API.
type Telegram struct {
	botToken string
	apiBase  string
	client   *http.Client
	limiter  *rate.Limiter
}

var _ pipeline.ChatNotifier = (*Telegram)(nil)

// NewTelegram registers the bot token.
func NewTelegram(botToken string) *Telegram {
	return &Telegram{
		botToken: botToken,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(messagesPerSecond), 1),
	}
}

// NotifyMatch posts one Markdown message about a changed listing to the
// owner's chat.
func (t *Telegram) NotifyMatch(ctx context.Context, chatID int64, listing models.Listing, kind models.ChangeKind) error {
	if t.botToken == "" {
		return fmt.Errorf("telegram notifier misconfigured: empty bot token")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", formatMessage(listing, kind))
	form.Set("parse_mode", "Markdown")
	form.Set("disable_web_page_preview", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

var headlines = map[models.ChangeKind]string{
	models.ChangeNew:       "🚗 Neues Angebot",
	models.ChangePriceDrop: "📉 Preis gesenkt",
	models.ChangePriceRise: "📈 Preis erhöht",
	models.ChangeAttribute: "✏️ Anzeige geändert",
}

// formatMessage renders the notification text. Optional attributes are
// omitted rather than shown as zero values.
func formatMessage(listing models.Listing, kind models.ChangeKind) string {
	var b strings.Builder

	headline, ok := headlines[kind]
	if !ok {
		headline = "🚗 Angebot"
	}
	fmt.Fprintf(&b, "%s\n*%s*\n\n", headline, listing.Title)
	fmt.Fprintf(&b, "💰 %s\n", formatPrice(listing.Price))

	if kind == models.ChangePriceDrop || kind == models.ChangePriceRise {
		if n := len(listing.PriceHistory); n >= 2 {
			fmt.Fprintf(&b, "↳ vorher %s\n", formatPrice(listing.PriceHistory[n-2].Price))
		}
	}
	if listing.Location.Text != "" {
		fmt.Fprintf(&b, "📍 %s\n", listing.Location.Text)
	}
	if listing.Year > 0 {
		fmt.Fprintf(&b, "📅 EZ %d\n", listing.Year)
	}
	if listing.Mileage > 0 {
		fmt.Fprintf(&b, "🛣 %d km\n", listing.Mileage)
	}
	if listing.Fuel != models.FuelUnknown {
		fmt.Fprintf(&b, "⛽ %s\n", listing.Fuel)
	}

	if listing.Description != "" {
		b.WriteString("\n" + truncate(listing.Description, 300) + "\n")
	}
	b.WriteString("\n" + listing.URL)
	return b.String()
}

func formatPrice(p models.Price) string {
	if p.Currency == "EUR" {
		return fmt.Sprintf("%d €", p.Cents/100)
	}
	return fmt.Sprintf("%d %s", p.Cents/100, p.Currency)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
