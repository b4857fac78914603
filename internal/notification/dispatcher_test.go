package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// mockSender はSenderのモック実装。
type mockSender struct {
	mu    sync.Mutex
	sent  []*Notification
	errFn func(n *Notification) error
}

func (m *mockSender) Send(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errFn != nil {
		if err := m.errFn(n); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockMetrics はMetricsCollectorのモック実装。
type mockMetrics struct {
	mu      sync.Mutex
	sent    int
	failed  int
	dropped int
}

func (m *mockMetrics) RecordEventCreated()                   {}
func (m *mockMetrics) RecordEventApproval()                  {}
func (m *mockMetrics) RecordEventRejection()                 {}
func (m *mockMetrics) RecordAvailabilityQuery(time.Duration) {}
func (m *mockMetrics) RecordSyncEventsUpserted(int)          {}
func (m *mockMetrics) RecordHTTPStatus(int)                  {}
func (m *mockMetrics) RecordNotificationSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
}
func (m *mockMetrics) RecordNotificationFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}
func (m *mockMetrics) RecordNotificationDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func testRecipient() *model.User {
	return &model.User{
		ID:        "user-1",
		Email:     "taro@example.com",
		PushToken: "token-abc",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestEnqueue_QueuesNotification は通知がキューに積まれ送信されることを検証する。
func TestEnqueue_QueuesNotification(t *testing.T) {
	sender := &mockSender{}
	m := &mockMetrics{}
	d := NewDispatcher(sender, testLogger(), m, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	ok := d.Enqueue(&Notification{
		Recipient: testRecipient(),
		Kind:      KindEventCreated,
		Title:     "新しい予定",
		Body:      "パートナーが予定を作成しました",
		EventID:   "event-1",
	})
	if !ok {
		t.Fatal("Enqueue returned false, want true")
	}

	// ワーカーが処理するまで待機
	deadline := time.After(2 * time.Second)
	for sender.sentCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("notification was not delivered within deadline")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	<-done

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent != 1 {
		t.Errorf("sent metric = %d, want 1", m.sent)
	}
}

// TestEnqueue_DropsWhenQueueFull はキュー満杯時に破棄されることを検証する。
func TestEnqueue_DropsWhenQueueFull(t *testing.T) {
	sender := &mockSender{}
	m := &mockMetrics{}
	// ワーカーを起動しないため、キュー容量を超えた分は破棄される
	d := NewDispatcher(sender, testLogger(), m, 2)

	n := &Notification{Recipient: testRecipient(), Kind: KindEventApproved}

	if !d.Enqueue(n) {
		t.Fatal("first Enqueue should succeed")
	}
	if !d.Enqueue(n) {
		t.Fatal("second Enqueue should succeed")
	}
	if d.Enqueue(n) {
		t.Error("third Enqueue should be dropped")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped != 1 {
		t.Errorf("dropped metric = %d, want 1", m.dropped)
	}
}

// TestEnqueue_SkipsRecipientWithoutPushToken はプッシュトークン未登録の受信者への通知をスキップすることを検証する。
func TestEnqueue_SkipsRecipientWithoutPushToken(t *testing.T) {
	sender := &mockSender{}
	m := &mockMetrics{}
	d := NewDispatcher(sender, testLogger(), m, 8)

	tests := []struct {
		name string
		n    *Notification
	}{
		{name: "nil通知", n: nil},
		{name: "受信者なし", n: &Notification{Kind: KindEventCreated}},
		{
			name: "トークンなし",
			n: &Notification{
				Recipient: &model.User{ID: "user-2", Email: "hanako@example.com"},
				Kind:      KindEventCreated,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d.Enqueue(tt.n) {
				t.Error("Enqueue returned true, want false")
			}
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped != 0 {
		t.Errorf("dropped metric = %d, want 0 (skip is not a drop)", m.dropped)
	}
}

// TestDispatcher_RecordsSendFailure は送信失敗が失敗メトリクスに記録されることを検証する。
func TestDispatcher_RecordsSendFailure(t *testing.T) {
	sender := &mockSender{
		errFn: func(n *Notification) error {
			return errors.New("gateway unavailable")
		},
	}
	m := &mockMetrics{}
	d := NewDispatcher(sender, testLogger(), m, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	d.Enqueue(&Notification{Recipient: testRecipient(), Kind: KindEventRejected})

	deadline := time.After(2 * time.Second)
	for {
		m.mu.Lock()
		failed := m.failed
		m.mu.Unlock()
		if failed >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("failure was not recorded within deadline")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	<-done

	if sender.sentCount() != 0 {
		t.Errorf("sent = %d, want 0", sender.sentCount())
	}
}

// TestLogSender_AlwaysSucceeds はLogSenderが常に成功することを検証する。
func TestLogSender_AlwaysSucceeds(t *testing.T) {
	s := NewLogSender(testLogger())

	err := s.Send(context.Background(), &Notification{
		Recipient: testRecipient(),
		Kind:      KindLinkEstablished,
		Title:     "ペアリング成立",
	})
	if err != nil {
		t.Errorf("Send returned error: %v", err)
	}
}
