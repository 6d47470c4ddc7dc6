//go:build integration

package mqtt

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

// Integration tests against a live broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectTest(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_Connect(t *testing.T) {
	client := connectTest(t, "ferrobot-int-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context succeeded")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectTest(t, "ferrobot-int-sub-track")
	topics := client.Topics()

	subs := []string{
		topics.AllCommands(),
		topics.AllStates(),
		topics.Mode(),
	}
	handler := func(string, []byte) error { return nil }

	for _, topic := range subs {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if got := client.Subscriptions(); len(got) != len(subs) {
		t.Errorf("Subscriptions() = %v, want %d filters", got, len(subs))
	}

	if err := client.Unsubscribe(subs[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if slices.Contains(client.Subscriptions(), subs[0]) {
		t.Errorf("Subscriptions() still has %s after unsubscribe", subs[0])
	}
}

func TestIntegration_WildcardRoundtrip(t *testing.T) {
	pub := connectTest(t, "ferrobot-int-pub")
	sub := connectTest(t, "ferrobot-int-sub")
	topics := sub.Topics()

	var mu sync.Mutex
	received := make(map[device.Identity]string)
	done := make(chan struct{})
	var once sync.Once

	err := sub.Subscribe(topics.AllCommands(), 1, func(topic string, payload []byte) error {
		_, dev, err := topics.ParseDeviceTopic(topic)
		if err != nil {
			return err
		}
		mu.Lock()
		received[dev] = string(payload)
		n := len(received)
		mu.Unlock()
		if n == 2 {
			once.Do(func() { close(done) })
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	devs := []device.Identity{
		{Kind: device.KindSparkMax, ID: 1},
		{Kind: device.KindNavX, ID: 0},
	}
	for _, dev := range devs {
		if err := pub.Publish(topics.Command(dev), []byte(dev.String()), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", dev, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, dev := range devs {
		if received[dev] != dev.String() {
			t.Errorf("received[%s] = %q, want %q", dev, received[dev], dev.String())
		}
	}
}
