package conversation

import (
	"testing"
	"time"
)

func TestNewValidates(t *testing.T) {
	now := time.Now()
	if _, err := New("c1", "", "user-1", "en", now); err != ErrChannelRequired {
		t.Fatalf("expected ErrChannelRequired, got %v", err)
	}
	if _, err := New("c1", "whatsapp", "", "en", now); err != ErrUserIDRequired {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestNewDefaultsLocale(t *testing.T) {
	c, err := New("c1", "whatsapp", "user-1", "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Locale != "en" {
		t.Fatalf("expected default locale en, got %q", c.Locale)
	}
	if c.Status != StatusActive {
		t.Fatalf("expected active, got %s", c.Status)
	}
}

func TestTouchTimestamps(t *testing.T) {
	start := time.Now()
	c, _ := New("c1", "whatsapp", "user-1", "hi", start)

	in := start.Add(time.Minute)
	c.TouchInbound(in)
	if !c.LastInboundAt.Equal(in) || !c.UpdatedAt.Equal(in) {
		t.Fatalf("inbound not recorded: %+v", c)
	}

	out := start.Add(2 * time.Minute)
	c.TouchOutbound(out)
	if !c.LastOutboundAt.Equal(out) || !c.UpdatedAt.Equal(out) {
		t.Fatalf("outbound not recorded: %+v", c)
	}
}

func TestTouchInboundReactivates(t *testing.T) {
	start := time.Now()
	c, _ := New("c1", "whatsapp", "user-1", "en", start)
	c.Status = StatusExpired
	c.RemindedAt = start

	in := start.Add(time.Hour)
	c.TouchInbound(in)
	if c.Status != StatusActive {
		t.Fatalf("expected active after inbound, got %s", c.Status)
	}
	if !c.RemindedAt.IsZero() {
		t.Fatalf("expected reminder stamp cleared, got %v", c.RemindedAt)
	}
}

func TestDueUserReminder(t *testing.T) {
	after := 7 * 24 * time.Hour
	base := time.Now()

	cases := []struct {
		name string
		prep func(c *Conversation)
		at   time.Time
		want bool
	}{
		{"quiet past threshold", func(c *Conversation) {}, base.Add(8 * 24 * time.Hour), true},
		{"still fresh", func(c *Conversation) {}, base.Add(time.Hour), false},
		{"already nudged", func(c *Conversation) {
			c.RemindedAt = base.Add(7 * 24 * time.Hour)
		}, base.Add(8 * 24 * time.Hour), false},
		{"nudged before last message", func(c *Conversation) {
			c.RemindedAt = base.Add(-time.Hour)
		}, base.Add(8 * 24 * time.Hour), true},
		{"expired", func(c *Conversation) {
			c.Status = StatusExpired
		}, base.Add(8 * 24 * time.Hour), false},
		{"pending query", func(c *Conversation) {
			c.PendingQueryID = "q1"
		}, base.Add(8 * 24 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := New("c1", "whatsapp", "user-1", "en", base)
			tc.prep(c)
			if got := c.DueUserReminder(after, tc.at); got != tc.want {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}

	c, _ := New("c1", "whatsapp", "user-1", "en", base)
	if c.DueUserReminder(0, base.Add(8*24*time.Hour)) {
		t.Fatal("zero threshold must disable the nudge")
	}
}

func TestHasPendingQuery(t *testing.T) {
	c, _ := New("c1", "whatsapp", "user-1", "en", time.Now())
	if c.HasPendingQuery() {
		t.Fatal("fresh conversation must have no pending query")
	}
	c.PendingQueryID = "q1"
	if !c.HasPendingQuery() {
		t.Fatal("expected pending query")
	}
}
