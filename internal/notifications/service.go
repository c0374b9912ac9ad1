package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"datastudio/internal/config"
)

const userAgent = "datastudio/0.1.0"

// RunEvent describes a finished filter or merge run.
type RunEvent struct {
	RunID         string
	Kind          string
	RepoID        string
	Episodes      int64
	Frames        int64
	MissingAssets int
	Duration      time.Duration
	ErrorKind     string
	Error         string
}

// Service defines the notification surface used by the run launcher.
type Service interface {
	NotifyRunCompleted(ctx context.Context, event RunEvent) error
	NotifyRunFailed(ctx context.Context, event RunEvent) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc delivers anything.
func Enabled(svc Service) bool {
	if svc == nil {
		return false
	}
	_, noop := svc.(noopService)
	return !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, event RunEvent) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s %s: %d episodes, %d frames in %s",
		kindLabel(event.Kind), strings.TrimSpace(event.RepoID), event.Episodes, event.Frames, durationText(event.Duration))
	if event.MissingAssets > 0 {
		fmt.Fprintf(&builder, "\n%d video files were missing and skipped", event.MissingAssets)
	}
	data := payload{
		title:   completedTitle(event.Kind),
		message: builder.String(),
		tags:    []string{"datastudio", kindLabel(event.Kind), "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, event RunEvent) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s %s failed", kindLabel(event.Kind), strings.TrimSpace(event.RepoID))
	if kind := strings.TrimSpace(event.ErrorKind); kind != "" {
		fmt.Fprintf(&builder, " (%s)", kind)
	}
	builder.WriteString(": ")
	if msg := strings.TrimSpace(event.Error); msg != "" {
		builder.WriteString(msg)
	} else {
		builder.WriteString("unknown")
	}
	if event.RunID != "" {
		fmt.Fprintf(&builder, "\nRun: %s", event.RunID)
	}
	data := payload{
		title:    "datastudio - Run Failed",
		message:  builder.String(),
		tags:     []string{"datastudio", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "datastudio - Test",
		message:  "Notification system test",
		tags:     []string{"datastudio", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func kindLabel(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return "run"
	}
	return kind
}

func completedTitle(kind string) string {
	switch kindLabel(kind) {
	case "filter":
		return "datastudio - Filter Complete"
	case "merge":
		return "datastudio - Merge Complete"
	default:
		return "datastudio - Run Complete"
	}
}

func durationText(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, RunEvent) error { return nil }
func (noopService) NotifyRunFailed(context.Context, RunEvent) error    { return nil }
func (noopService) TestNotification(context.Context) error             { return nil }
