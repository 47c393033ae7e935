// Package notify shows user-facing notifications through a platform
// adapter, asking for permission first when needed.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ecodex/offline/internal/logging"
)

// Permission is the user's notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Defaults applied to notifications that leave these fields empty.
const (
	DefaultIcon  = "/logo192.png"
	DefaultBadge = "/logo192.png"
)

// DefaultVibrate returns the default vibration pattern in milliseconds.
func DefaultVibrate() []int {
	return []int{100, 50, 100}
}

// Action is a button offered on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is a single user-facing message.
type Notification struct {
	Title   string                 `json:"title"`
	Body    string                 `json:"body,omitempty"`
	Icon    string                 `json:"icon,omitempty"`
	Badge   string                 `json:"badge,omitempty"`
	Vibrate []int                  `json:"vibrate,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Actions []Action               `json:"actions,omitempty"`
}

// withDefaults fills empty presentation fields.
func (n Notification) withDefaults() Notification {
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Badge == "" {
		n.Badge = DefaultBadge
	}
	if len(n.Vibrate) == 0 {
		n.Vibrate = DefaultVibrate()
	}
	return n
}

// PushNotification builds the notification shown for a server push.
// An empty body falls back to a generic announcement.
func PushNotification(title, body string) Notification {
	if body == "" {
		body = "New discovery available!"
	}
	return Notification{
		Title: title,
		Body:  body,
		Data:  map[string]interface{}{"dateOfArrival": time.Now().UnixMilli(), "primaryKey": 1},
		Actions: []Action{
			{Action: "explore", Title: "Explore", Icon: DefaultIcon},
			{Action: "close", Title: "Close", Icon: DefaultIcon},
		},
	}
}

// Platform delivers notifications and owns the permission prompt.
type Platform interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, n Notification) error
}

// Manager wraps a Platform. A nil platform means notifications are not
// supported: permission requests report false and nothing is shown.
type Manager struct {
	platform Platform
	mu       sync.Mutex
}

// NewManager creates a Manager over platform, which may be nil.
func NewManager(platform Platform) *Manager {
	return &Manager{platform: platform}
}

// Supported reports whether a platform is attached.
func (m *Manager) Supported() bool {
	return m.platform != nil
}

// Permission returns the current permission.
func (m *Manager) Permission() Permission {
	if m.platform == nil {
		return PermissionDenied
	}
	return m.platform.Permission()
}

// RequestPermission asks for permission unless it is already granted and
// reports whether it is granted afterwards.
func (m *Manager) RequestPermission(ctx context.Context) (bool, error) {
	if m.platform == nil {
		logging.Debug("Notifications not supported", nil)
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.platform.Permission() == PermissionGranted {
		return true, nil
	}
	p, err := m.platform.RequestPermission(ctx)
	if err != nil {
		return false, err
	}
	logging.Info("Notification permission", map[string]interface{}{"permission": string(p)})
	return p == PermissionGranted, nil
}

// Show delivers n when permission is granted, requesting it first if
// needed. It reports whether the notification was delivered.
func (m *Manager) Show(ctx context.Context, n Notification) (bool, error) {
	granted, err := m.RequestPermission(ctx)
	if err != nil || !granted {
		return false, err
	}
	if err := m.platform.Show(ctx, n.withDefaults()); err != nil {
		logging.Error("Failed to show notification", err, map[string]interface{}{"title": n.Title})
		return false, err
	}
	return true, nil
}

// Schedule shows n after delay. The returned function cancels it if it
// has not fired yet.
func (m *Manager) Schedule(n Notification, delay time.Duration) (cancel func()) {
	timer := time.AfterFunc(delay, func() {
		_, _ = m.Show(context.Background(), n)
	})
	return func() { timer.Stop() }
}

// LogPlatform is a Platform that writes notifications to the log. It is
// used by headless deployments where no desktop surface exists.
type LogPlatform struct {
	mu         sync.Mutex
	permission Permission
	grant      bool
}

// NewLogPlatform returns a LogPlatform whose permission requests are
// granted when grant is true and denied otherwise.
func NewLogPlatform(grant bool) *LogPlatform {
	return &LogPlatform{permission: PermissionDefault, grant: grant}
}

// Permission implements Platform.
func (p *LogPlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

// RequestPermission implements Platform.
func (p *LogPlatform) RequestPermission(context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.permission == PermissionDefault {
		p.permission = PermissionDenied
		if p.grant {
			p.permission = PermissionGranted
		}
	}
	return p.permission, nil
}

// Show implements Platform.
func (p *LogPlatform) Show(_ context.Context, n Notification) error {
	logging.Info("Notification", map[string]interface{}{
		"title": n.Title,
		"body":  n.Body,
	})
	return nil
}
