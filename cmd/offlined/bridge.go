package main

import (
	"context"

	"github.com/ecodex/offline/internal/connectivity"
	"github.com/ecodex/offline/internal/install"
	"github.com/ecodex/offline/internal/intercept"
	"github.com/ecodex/offline/internal/notify"
	"github.com/ecodex/offline/internal/offline"
	offsync "github.com/ecodex/offline/internal/sync"
)

// hubPlatform shows notifications by logging them and pushing them to
// WebSocket clients. Permission follows the wrapped LogPlatform.
type hubPlatform struct {
	*notify.LogPlatform
	hub *WSHub
}

func newHubPlatform(hub *WSHub, grant bool) *hubPlatform {
	return &hubPlatform{LogPlatform: notify.NewLogPlatform(grant), hub: hub}
}

func (p *hubPlatform) Show(ctx context.Context, n notify.Notification) error {
	if err := p.LogPlatform.Show(ctx, n); err != nil {
		return err
	}
	p.hub.Broadcast(EventNotification, map[string]interface{}{
		"title":   n.Title,
		"body":    n.Body,
		"icon":    n.Icon,
		"badge":   n.Badge,
		"vibrate": n.Vibrate,
		"data":    n.Data,
		"actions": n.Actions,
	})
	return nil
}

// cacheWriteObserver forwards interceptor cache writes to WebSocket clients.
func cacheWriteObserver(hub *WSHub) intercept.Observer {
	return func(cw intercept.CacheWrite) {
		data := map[string]interface{}{
			"strategy":   string(cw.Strategy),
			"key":        cw.Key,
			"generation": cw.Generation,
			"status":     cw.Status,
			"outcome":    string(cw.Outcome),
		}
		if cw.Err != nil {
			data["error"] = cw.Err.Error()
		}
		hub.Broadcast(EventCacheWrite, data)
	}
}

// bridgeEvents forwards connectivity, install and sync events to hub and
// returns a function that stops the subscriptions.
func bridgeEvents(m *offline.Manager, hub *WSHub) (stop func()) {
	unsubConn := m.Connectivity().Subscribe(func(status connectivity.Status, online bool) {
		hub.Broadcast(EventConnectivityChanged, map[string]interface{}{
			"status": string(status),
			"online": online,
		})
	})
	unsubInstall := m.Install().Subscribe(func(state install.State, installed bool) {
		hub.Broadcast(EventInstallChanged, map[string]interface{}{
			"state":     string(state),
			"installed": installed,
		})
	})
	m.OnSyncEvent(offsync.SyncEventHandlerFunc(func(e offsync.SyncEvent) {
		data := map[string]interface{}{}
		if e.OperationID != "" {
			data["operation_id"] = e.OperationID
		}
		if e.Error != "" {
			data["error"] = e.Error
		}
		if e.Result != nil {
			data["attempted"] = e.Result.Attempted
			data["synced"] = e.Result.Synced
			data["failed"] = e.Result.Failed
			data["deferred"] = e.Result.Deferred
			data["duration"] = e.Result.Duration.Milliseconds()
		}
		hub.Broadcast(string(e.Type), data)
	}))

	return func() {
		unsubConn()
		unsubInstall()
	}
}
