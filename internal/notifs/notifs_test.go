package notifs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitField(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitField("short", 10))

	chunks := splitField("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, chunks)

	long := strings.Repeat("x", 25)
	chunks = splitField(long, 10)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 10)
	}
	assert.Equal(t, long, strings.Join(chunks, ""))
}

func TestDiscordSendMessage(t *testing.T) {
	var (
		mu       sync.Mutex
		received []message
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))

		mu.Lock()
		received = append(received, msg)
		mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	lines := strings.Repeat("line of output\n", 150)
	require.NoError(t, d.SendMessage(context.Background(), "title", "desc", "key", lines))

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(received), 1)
	for _, msg := range received {
		require.Len(t, msg.Embed, 1)
		assert.Equal(t, ":telescope: title", msg.Embed[0].Title)
		assert.LessOrEqual(t, len(msg.Embed[0].Fields[0].Value), maxFieldLen)
	}
}

func TestDiscordSendMessageBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscord(srv.URL).SendMessage(context.Background(), "t", "d", "k", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

type recordingProvider struct {
	title, desc, key, value string
}

func (p *recordingProvider) SendMessage(_ context.Context, title, desc, key, value string) error {
	p.title, p.desc, p.key, p.value = title, desc, key, value
	return nil
}

func TestContentChanged(t *testing.T) {
	p := &recordingProvider{}
	n := NewNotifWithProvider(p)

	name := "homepage"
	status := 200
	hash := "abc123"
	target := models.WatchTarget{URL: "https://example.com", Name: &name}
	target.ID = 7

	n.ContentChanged(context.Background(), target, models.ContentCheck{
		TargetID:    7,
		CheckedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		StatusCode:  &status,
		ContentHash: &hash,
	})

	assert.Equal(t, "Content Changed", p.title)
	assert.Equal(t, "homepage changed its content", p.desc)
	assert.Equal(t, "target #7", p.key)
	assert.Contains(t, p.value, "https://example.com")
	assert.Contains(t, p.value, "status: 200")
	assert.Contains(t, p.value, "hash: abc123")
}

func TestNewNotifWithoutWebhook(t *testing.T) {
	assert.IsType(t, Nop{}, NewNotif(""))
	assert.IsType(t, &Notif{}, NewNotif("http://discord.invalid/hook"))
}
