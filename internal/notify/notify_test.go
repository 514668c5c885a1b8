package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records everything dispatched to it.
type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
	name string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, title+"|"+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventEmergency}, discardLogger())
	ctx := context.Background()

	if err := n.Notify(ctx, EventTradeOpened, "Tranche opened", "ignored"); err != nil {
		t.Fatalf("Notify filtered event: %v", err)
	}
	if err := n.Notify(ctx, EventEmergency, "EMERGENCY BALANCE", "delivered"); err != nil {
		t.Fatalf("Notify allowed event: %v", err)
	}

	if len(s.sent) != 1 || !strings.Contains(s.sent[0], "delivered") {
		t.Errorf("sent = %v, want only the emergency alert", s.sent)
	}
}

func TestNotifierSurvivesFailingSender(t *testing.T) {
	broken := &fakeSender{name: "broken", fail: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{broken, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventHalted, "Trading halted", "msg")
	if err == nil {
		t.Fatal("Notify returned nil, want the broken sender reported")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("err = %v, want the failing sender named", err)
	}
	if len(good.sent) != 1 {
		t.Errorf("good sender sent = %v, want the alert delivered anyway", good.sent)
	}
}

func TestTelegramSenderPayload(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("bot-token", "chat-42")
	s.api = srv.URL

	err := s.Send(context.Background(), "Tranche *opened*", "ETH-USDT filled 1 / 1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/botbot-token/sendMessage" {
		t.Errorf("path = %q, want /botbot-token/sendMessage", gotPath)
	}
	if gotBody["chat_id"] != "chat-42" {
		t.Errorf("chat_id = %v, want chat-42", gotBody["chat_id"])
	}
	text, _ := gotBody["text"].(string)
	if !strings.HasPrefix(text, "*Tranche \\*opened\\**\n") {
		t.Errorf("text = %q, want escaped bold title first", text)
	}
	if !strings.Contains(text, "```\nETH-USDT filled 1 / 1\n```") {
		t.Errorf("text = %q, want the body in a monospace block", text)
	}
	if gotBody["disable_web_page_preview"] != true {
		t.Error("disable_web_page_preview not set")
	}
}

func TestTelegramSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat")
	s.api = srv.URL

	err := s.Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want status 400 surfaced", err)
	}
}

func TestDiscordSenderEmbeds(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	err := s.Send(context.Background(), "EMERGENCY BALANCE", "deltas a=0.5 b=0")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "EMERGENCY BALANCE" || e.Description != "deltas a=0.5 b=0" {
		t.Errorf("embed = %+v, want title and description carried through", e)
	}
	if e.Color != colorAlarm {
		t.Errorf("color = %#x, want alarm %#x", e.Color, colorAlarm)
	}
	if e.Timestamp != now.Format(time.RFC3339) {
		t.Errorf("timestamp = %q, want %q", e.Timestamp, now.Format(time.RFC3339))
	}
}

func TestEmbedColor(t *testing.T) {
	tests := []struct {
		title string
		want  int
	}{
		{"EMERGENCY BALANCE", colorAlarm},
		{"Trading halted", colorAlarm},
		{"Position closed", colorClose},
		{"Tranche opened", colorOpen},
	}
	for _, tt := range tests {
		if got := embedColor(tt.title); got != tt.want {
			t.Errorf("embedColor(%q) = %#x, want %#x", tt.title, got, tt.want)
		}
	}
}
