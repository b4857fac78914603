// Package notification はパートナーへのプッシュ通知配信を提供する。
// イベント作成・承認・拒否などのドメイン操作から発火され、
// 送信は主処理をブロックしないfire-and-forget方式で行う。
package notification

import (
	"context"
	"log/slog"

	"github.com/hitoshi/paircal/internal/metrics"
	"github.com/hitoshi/paircal/internal/model"
)

// Kind は通知の種別を表す。
type Kind string

const (
	// KindEventCreated はパートナーがイベントを作成した通知。
	KindEventCreated Kind = "EVENT_CREATED"
	// KindEventApproved はパートナーがイベントを承認した通知。
	KindEventApproved Kind = "EVENT_APPROVED"
	// KindEventRejected はパートナーがイベントを拒否した通知。
	KindEventRejected Kind = "EVENT_REJECTED"
	// KindEventUpdated はイベント変更により再承認が必要になった通知。
	KindEventUpdated Kind = "EVENT_UPDATED"
	// KindEventCancelled はイベントがキャンセルされた通知。
	KindEventCancelled Kind = "EVENT_CANCELLED"
	// KindLinkEstablished はペアリングが成立した通知。
	KindLinkEstablished Kind = "LINK_ESTABLISHED"
	// KindLinkDissolved はペアリングが解消された通知。
	KindLinkDissolved Kind = "LINK_DISSOLVED"
)

// Notification は配信対象1件分の通知内容を表す。
type Notification struct {
	Recipient *model.User
	Kind      Kind
	Title     string
	Body      string
	EventID   string
}

// Sender は通知の実送信を行うインターフェース。
// 本番ではプッシュ通知ゲートウェイへの送信、開発環境ではログ出力となる。
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// Dispatcher は通知をバッファ付きキューで受け取り、
// 専用ゴルーチンで順次送信するディスパッチャー。
// キューが満杯の場合は通知を破棄する。主処理は決してブロックしない。
type Dispatcher struct {
	sender  Sender
	queue   chan *Notification
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// queueSizeが0以下の場合はデフォルト値256を使用する。
func NewDispatcher(
	sender Sender,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	queueSize int,
) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan *Notification, queueSize),
		logger:  logger,
		metrics: collector,
	}
}

// Enqueue は通知をキューに積む。ブロックせず、満杯の場合は破棄してfalseを返す。
// 受信者がnil、またはプッシュトークン未登録の場合も送信せずfalseを返す。
func (d *Dispatcher) Enqueue(n *Notification) bool {
	if n == nil || n.Recipient == nil || n.Recipient.PushToken == "" {
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		d.metrics.RecordNotificationDropped()
		d.logger.Warn("通知キューが満杯のため通知を破棄しました",
			slog.String("recipient_id", n.Recipient.ID),
			slog.String("kind", string(n.Kind)),
		)
		return false
	}
}

// Start は送信ワーカーを起動する。コンテキストがキャンセルされるまで
// キューから通知を取り出して送信を継続する。
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("通知ディスパッチャーを開始しました",
		slog.Int("queue_capacity", cap(d.queue)),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("通知ディスパッチャーを停止しました")
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

// deliver は通知1件を送信し、結果をメトリクスに記録する。
// 送信失敗はログに残すのみでリトライしない。
func (d *Dispatcher) deliver(ctx context.Context, n *Notification) {
	if err := d.sender.Send(ctx, n); err != nil {
		d.metrics.RecordNotificationFailed()
		d.logger.Error("通知の送信に失敗しました",
			slog.String("recipient_id", n.Recipient.ID),
			slog.String("kind", string(n.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	d.metrics.RecordNotificationSent()
}

// LogSender は通知を構造化ログに出力するSender実装。
// プッシュ通知ゲートウェイ未接続の環境で使用する。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderの新しいインスタンスを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send は通知内容をINFOログに出力する。常に成功する。
func (s *LogSender) Send(ctx context.Context, n *Notification) error {
	s.logger.Info("通知を送信しました",
		slog.String("recipient_id", n.Recipient.ID),
		slog.String("kind", string(n.Kind)),
		slog.String("title", n.Title),
		slog.String("body", n.Body),
		slog.String("event_id", n.EventID),
	)
	return nil
}

var _ Sender = (*LogSender)(nil)
