package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"carscout/internal/models"
)

func testListing() models.Listing {
	return models.Listing{
		ExternalID: "2514773024",
		Title:      "Audi A4 Avant 2.0 TDI",
		Year:       2018,
		Price:      models.Price{Cents: 1250000, Currency: "EUR"},
		Mileage:    89000,
		Fuel:       models.FuelDiesel,
		Location:   models.Location{Text: "München"},
		URL:        "https://www.kleinanzeigen.de/s-anzeige/audi-a4/2514773024-216-6325",
	}
}

func TestNotifyMatch_PostsForm(t *testing.T) {
	var gotPath string
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegram("test-token")
	n.apiBase = srv.URL

	if err := n.NotifyMatch(context.Background(), 42, testListing(), models.ChangeNew); err != nil {
		t.Fatalf("NotifyMatch() returned error: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if got := gotForm["chat_id"]; len(got) != 1 || got[0] != "42" {
		t.Errorf("chat_id = %v, want 42", got)
	}
	if got := gotForm["parse_mode"]; len(got) != 1 || got[0] != "Markdown" {
		t.Errorf("parse_mode = %v", got)
	}
	text := gotForm["text"][0]
	if !strings.Contains(text, "Audi A4 Avant 2.0 TDI") {
		t.Errorf("text missing title: %q", text)
	}
	if !strings.Contains(text, testListing().URL) {
		t.Errorf("text missing listing URL: %q", text)
	}
}

func TestNotifyMatch_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegram("test-token")
	n.apiBase = srv.URL

	if err := n.NotifyMatch(context.Background(), 42, testListing(), models.ChangeNew); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestNotifyMatch_EmptyTokenFailsFast(t *testing.T) {
	n := NewTelegram("")
	if err := n.NotifyMatch(context.Background(), 42, testListing(), models.ChangeNew); err == nil {
		t.Fatal("expected error for empty bot token")
	}
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage(testListing(), models.ChangeNew)
	for _, want := range []string{"Neues Angebot", "12500 €", "München", "EZ 2018", "89000 km", "diesel"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessage_PriceDropShowsPreviousPrice(t *testing.T) {
	l := testListing()
	l.Price = models.Price{Cents: 1100000, Currency: "EUR"}
	l.PriceHistory = []models.PricePoint{
		{Price: models.Price{Cents: 1250000, Currency: "EUR"}},
		{Price: models.Price{Cents: 1100000, Currency: "EUR"}},
	}

	msg := formatMessage(l, models.ChangePriceDrop)
	if !strings.Contains(msg, "Preis gesenkt") {
		t.Errorf("message missing drop headline:\n%s", msg)
	}
	if !strings.Contains(msg, "vorher 12500 €") {
		t.Errorf("message missing previous price:\n%s", msg)
	}
}

func TestFormatMessage_OmitsUnknownAttributes(t *testing.T) {
	l := testListing()
	l.Year = 0
	l.Mileage = 0
	l.Fuel = models.FuelUnknown
	l.Location.Text = ""

	msg := formatMessage(l, models.ChangeNew)
	for _, absent := range []string{"EZ ", " km", "⛽", "📍"} {
		if strings.Contains(msg, absent) {
			t.Errorf("message should omit %q for unknown values:\n%s", absent, msg)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 400)
	got := truncate(long, 300)
	if len([]rune(got)) != 300 {
		t.Errorf("truncated length = %d runes, want 300", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated text should end with an ellipsis")
	}
	if truncate("kurz", 300) != "kurz" {
		t.Error("short text must pass through unchanged")
	}
}
