// Package reload carries "reload schedules now" signals from the web process
// to the checker. Delivery is best effort.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	Channel        = "watcher:reload"
	NotifyTimeout  = 5 * time.Second
	redisOpTimeout = 5 * time.Second
)

type Notifier interface {
	NotifyReload(ctx context.Context) error
}

type Nop struct{}

func (Nop) NotifyReload(context.Context) error { return nil }

// HTTPNotifier posts to the checker's /reload endpoint.
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPNotifier(checkerURL string) *HTTPNotifier {
	return &HTTPNotifier{
		endpoint: strings.TrimRight(checkerURL, "/") + "/reload",
		client:   &http.Client{Timeout: NotifyTimeout},
	}
}

func (n *HTTPNotifier) NotifyReload(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, nil)
	if err != nil {
		return fmt.Errorf("build reload request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send reload request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("checker answered reload with %s", resp.Status)
	}
	return nil
}

type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) NotifyReload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload := time.Now().UTC().Format(time.RFC3339Nano)
	if err := n.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish reload: %w", err)
	}
	return nil
}

// Subscribe calls onReload for every message on Channel until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, onReload func()) {
	pubsub := client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	for {
		_, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Reload subscription error.", "err", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		log.Debug("Reload signal received from redis.")
		onReload()
	}
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %q: %w", redisURL, err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
