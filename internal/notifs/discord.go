package notifs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// discord rejects embed field values longer than this
const maxFieldLen = 1024

type Provider interface {
	SendMessage(ctx context.Context, title string, desc string, msgKey string, msgValue string) error
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Footer struct {
	Text    string `json:"text"`
	IconUrl string `json:"icon_url,omitempty"`
}

type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Url         string  `json:"url,omitempty"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields"`
	Footer      Footer  `json:"footer,omitempty"`
}

type message struct {
	Embed   []Embed `json:"embeds"`
	Content string  `json:"content,omitempty"`
}

type Discord struct {
	webhook string
	client  *http.Client
}

func NewDiscord(webhook string) *Discord {
	return &Discord{
		webhook: webhook,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendMessage posts one embed per chunk of msgValue, splitting on newlines
// so every code block stays under the field limit.
func (d *Discord) SendMessage(ctx context.Context, title string, desc string, msgKey string, msgValue string) error {
	for _, chunk := range splitField(msgValue, maxFieldLen-len("```\n\n```")) {
		embed := Embed{
			Title:       fmt.Sprintf(":telescope: %s", title),
			Description: fmt.Sprintf(":cyclone: **%s**", desc),
			Color:       3447003,
			Footer:      Footer{Text: "Watcher"},
			Fields: []Field{{
				Name:  fmt.Sprintf(":dart: **%s**", msgKey),
				Value: fmt.Sprintf("```\n%s\n```", chunk),
			}},
		}

		if err := d.sendEmbedReq(ctx, message{Embed: []Embed{embed}}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discord) sendEmbedReq(ctx context.Context, msg message) error {
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discord message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhook, bytes.NewReader(messageBytes))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status from discord: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func splitField(value string, limit int) []string {
	if len(value) <= limit {
		return []string{value}
	}

	var chunks []string
	for len(value) > limit {
		cut := strings.LastIndexByte(value[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, value[:cut])
		value = strings.TrimPrefix(value[cut:], "\n")
	}
	if value != "" {
		chunks = append(chunks, value)
	}
	return chunks
}
