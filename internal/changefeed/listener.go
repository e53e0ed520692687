package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// NotifyChannel はテーブルトリガーがpg_notifyするチャネル名。
const NotifyChannel = "latework_changes"

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// PostgresListener はPostgreSQLのLISTEN/NOTIFYをHubへ中継する。
type PostgresListener struct {
	databaseURL string
	hub         *Hub
	logger      *zap.Logger
}

// NewPostgresListener は新しいPostgresListenerを生成する。
func NewPostgresListener(databaseURL string, hub *Hub, logger *zap.Logger) *PostgresListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresListener{
		databaseURL: databaseURL,
		hub:         hub,
		logger:      logger.With(zap.String("component", "pg_listener")),
	}
}

// Run はctxがキャンセルされるまで通知を受信してHubへ配信する。
// 再接続の後は取りこぼしに備えて再同期イベントを配信する。
func (l *PostgresListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.databaseURL, minReconnectInterval, maxReconnectInterval, l.reportEvent)
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	l.logger.Info("change listener started", zap.String("channel", NotifyChannel))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("change listener stopped")
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// 再接続直後はnilが届く
				l.hub.Publish(Event{Op: OpResync})
				continue
			}
			event, err := ParseEvent(n.Extra)
			if err != nil {
				l.logger.Warn("invalid change payload", zap.Error(err))
				continue
			}
			l.hub.Publish(event)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("change listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (l *PostgresListener) reportEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info("change listener connected")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("change listener disconnected", zap.Error(err))
	case pq.ListenerEventReconnected:
		l.logger.Info("change listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Error("change listener connection attempt failed", zap.Error(err))
	}
}

// ParseEvent はNOTIFYのペイロードをEventに変換する。
func ParseEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode change payload: %w", err)
	}
	if e.Collection == "" || e.Op == "" {
		return Event{}, fmt.Errorf("change payload is missing collection or op: %q", payload)
	}
	return e, nil
}
