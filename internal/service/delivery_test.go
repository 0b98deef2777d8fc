package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/expertloop/expertloop/internal/domain/conversation"
	"github.com/expertloop/expertloop/internal/domain/delivery"
	"github.com/expertloop/expertloop/internal/port/channel"
)

// mockCache is a TTL-less in-memory cache.Cache.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newDeliveryFixture(t *testing.T, windowOpen bool, c *mockCache) (*DeliveryService, *mockAdapter, *conversation.Conversation) {
	t.Helper()
	adapter := newMockAdapter(windowOpen)
	catalog, err := delivery.NewCatalog(testTemplates())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	var svc *DeliveryService
	if c != nil {
		svc = NewDeliveryService(map[string]channel.Adapter{"whatsapp": adapter}, catalog, c, time.Minute, time.Second, testLogger())
	} else {
		svc = NewDeliveryService(map[string]channel.Adapter{"whatsapp": adapter}, catalog, nil, time.Minute, time.Second, testLogger())
	}
	conv, err := conversation.New("c1", "whatsapp", "user-1", "en", time.Now())
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	return svc, adapter, conv
}

func TestSelectFreeFormWhenWindowOpen(t *testing.T) {
	svc, _, conv := newDeliveryFixture(t, true, nil)

	d, err := svc.Select(context.Background(), conv, delivery.CategoryVerifiedAnswer,
		map[string]string{"question": "q", "answer": "a"}, "the raw verified answer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.FreeForm || d.Payload != "the raw verified answer" || d.TemplateName != "" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestSelectTemplateWhenWindowClosed(t *testing.T) {
	svc, _, conv := newDeliveryFixture(t, false, nil)

	d, err := svc.Select(context.Background(), conv, delivery.CategoryVerifiedAnswer,
		map[string]string{"question": "is it safe?", "answer": "yes", "extra": "ignored"},
		"free form ignored")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.FreeForm || d.TemplateName != "verified_v1" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Payload != "Q: is it safe? A: yes" {
		t.Fatalf("unexpected render: %q", d.Payload)
	}
}

func TestSelectFallsBackToGeneric(t *testing.T) {
	adapter := newMockAdapter(false)
	// A catalog with no apology template forces the generic fallback.
	catalog, err := delivery.NewCatalog([]delivery.Template{
		{Name: "generic_v1", Category: delivery.CategoryGeneric, Language: "en", Body: "You have an update."},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	svc := NewDeliveryService(map[string]channel.Adapter{"whatsapp": adapter}, catalog, nil, time.Minute, time.Second, testLogger())
	conv, _ := conversation.New("c1", "whatsapp", "user-1", "en", time.Now())

	d, err := svc.Select(context.Background(), conv, delivery.CategoryApology, nil, "free form")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.TemplateName != "generic_v1" || d.Payload != "You have an update." {
		t.Fatalf("expected generic fallback, got %+v", d)
	}
}

func TestSelectUnknownChannel(t *testing.T) {
	svc, _, _ := newDeliveryFixture(t, true, nil)
	conv, _ := conversation.New("c2", "telegram", "user-2", "en", time.Now())

	if _, err := svc.Select(context.Background(), conv, delivery.CategoryGeneric, nil, "x"); err == nil {
		t.Fatal("expected error for unconfigured channel")
	}
}

func TestWindowStateMemoized(t *testing.T) {
	c := newMockCache()
	svc, adapter, conv := newDeliveryFixture(t, true, c)
	ctx := context.Background()

	if _, err := svc.Select(ctx, conv, delivery.CategoryGeneric, nil, "one"); err != nil {
		t.Fatalf("select: %v", err)
	}

	// Flip the adapter: the cached state must still win.
	adapter.mu.Lock()
	adapter.windowOpen = false
	adapter.mu.Unlock()

	d, err := svc.Select(ctx, conv, delivery.CategoryGeneric, nil, "two")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !d.FreeForm {
		t.Fatal("expected memoized open window")
	}

	// Invalidation drops the entry and the adapter is consulted again.
	svc.InvalidateWindow(ctx, "whatsapp", conv.ID)
	d, err = svc.Select(ctx, conv, delivery.CategoryGeneric, nil, "three")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if d.FreeForm {
		t.Fatal("expected fresh closed-window state after invalidation")
	}
}

func TestInvalidateWindowNotesInbound(t *testing.T) {
	svc, adapter, conv := newDeliveryFixture(t, false, nil)

	svc.InvalidateWindow(context.Background(), "whatsapp", conv.ID)

	adapter.mu.Lock()
	_, noted := adapter.inbound[conv.ID]
	adapter.mu.Unlock()
	if !noted {
		t.Fatal("expected inbound noted on the adapter")
	}
}

func TestSendToExpertBypassesWindow(t *testing.T) {
	svc, adapter, _ := newDeliveryFixture(t, false, nil)

	if err := svc.SendToExpert(context.Background(), "whatsapp", "expert-chan", "please review"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last, ok := adapter.lastSent()
	if !ok || last.to != "expert-chan" || !last.d.FreeForm {
		t.Fatalf("expected free-form packet to expert, got %+v", last)
	}
}
