package notifs

import (
	"context"
	"fmt"
	"time"

	"github.com/ArCaneSec/watcher/internal/models"

	"github.com/charmbracelet/log"
)

type Notify interface {
	ContentChanged(ctx context.Context, target models.WatchTarget, check models.ContentCheck)
}

type Notif struct {
	provider Provider
}

// NewNotif returns a Discord-backed notifier, or Nop when no webhook is configured.
func NewNotif(webhook string) Notify {
	if webhook == "" {
		return Nop{}
	}
	return NewNotifWithProvider(NewDiscord(webhook))
}

func NewNotifWithProvider(p Provider) *Notif {
	return &Notif{provider: p}
}

func (n *Notif) ContentChanged(ctx context.Context, target models.WatchTarget, check models.ContentCheck) {
	status := "no response"
	if check.StatusCode != nil {
		status = fmt.Sprintf("%d", *check.StatusCode)
	}

	hash := ""
	if check.ContentHash != nil {
		hash = *check.ContentHash
	}

	details := fmt.Sprintf(
		"url: %s\nstatus: %s\nhash: %s\nchecked at: %s",
		target.URL, status, hash, check.CheckedAt.UTC().Format(time.RFC3339),
	)

	err := n.provider.SendMessage(ctx,
		"Content Changed",
		fmt.Sprintf("%s changed its content", target.DisplayName()),
		fmt.Sprintf("target #%d", target.ID),
		details,
	)
	if err != nil {
		log.Error("Couldn't send change notification.", "target_id", target.ID, "err", err)
	}
}

type Nop struct{}

func (Nop) ContentChanged(context.Context, models.WatchTarget, models.ContentCheck) {}
