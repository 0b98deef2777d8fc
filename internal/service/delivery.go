package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/expertloop/expertloop/internal/domain/conversation"
	"github.com/expertloop/expertloop/internal/domain/delivery"
	"github.com/expertloop/expertloop/internal/port/cache"
	"github.com/expertloop/expertloop/internal/port/channel"
)

// DeliveryService selects the outbound representation per the messaging
// window rule and hands the rendered payload to the channel adapter.
// Selection itself performs no network I/O beyond the window capability
// lookup; transport happens in Dispatch.
type DeliveryService struct {
	adapters  map[string]channel.Adapter
	catalog   *delivery.Catalog
	cache     cache.Cache
	windowTTL time.Duration
	timeout   time.Duration
	log       *slog.Logger
}

// NewDeliveryService creates a DeliveryService over the registered
// channel adapters. cache may be nil to disable window-state caching.
func NewDeliveryService(
	adapters map[string]channel.Adapter,
	catalog *delivery.Catalog,
	c cache.Cache,
	windowTTL, timeout time.Duration,
	log *slog.Logger,
) *DeliveryService {
	return &DeliveryService{
		adapters:  adapters,
		catalog:   catalog,
		cache:     c,
		windowTTL: windowTTL,
		timeout:   timeout,
		log:       log,
	}
}

func (s *DeliveryService) adapterFor(name string) (channel.Adapter, error) {
	a, ok := s.adapters[name]
	if !ok {
		return nil, fmt.Errorf("channel %q: no adapter configured", name)
	}
	return a, nil
}

// Select computes the delivery decision for the conversation: free-form
// when the provider window is open at decision time, otherwise the
// nearest matching template with only whitelisted slots substituted.
// A category with no template falls back to the generic template; the
// gap is logged, never fatal.
func (s *DeliveryService) Select(
	ctx context.Context,
	conv *conversation.Conversation,
	category delivery.Category,
	vars map[string]string,
	freeFormText string,
) (delivery.Decision, error) {
	adapter, err := s.adapterFor(conv.Channel)
	if err != nil {
		return delivery.Decision{}, err
	}

	open, err := s.windowOpen(ctx, adapter, conv.ID)
	if err != nil {
		// Capability failure: fall through to the template path, which
		// is always legal to send.
		s.log.Warn("window state lookup failed, assuming closed",
			"conversation_id", conv.ID, "error", err)
		open = false
	}

	if open {
		return delivery.Decision{FreeForm: true, Payload: freeFormText}, nil
	}

	tpl, err := s.catalog.Match(category, conv.Locale)
	if err != nil {
		s.log.Warn("no template available, using generic fallback",
			"category", category, "locale", conv.Locale)
		tpl = s.catalog.Generic(conv.Locale)
	}
	return delivery.Decision{
		FreeForm:     false,
		TemplateName: tpl.Name,
		Payload:      tpl.Render(vars),
	}, nil
}

// Dispatch sends the decision through the channel adapter under the
// configured delivery timeout.
func (s *DeliveryService) Dispatch(
	ctx context.Context,
	conv *conversation.Conversation,
	d delivery.Decision,
) (channel.Receipt, error) {
	adapter, err := s.adapterFor(conv.Channel)
	if err != nil {
		return channel.Receipt{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return adapter.Send(ctx, conv.ID, d)
}

// SendToExpert dispatches a free-form payload to an expert's own chat
// identity (review packets and escalation notices). Experts talk to the
// bot continuously, so the window rule is not applied.
func (s *DeliveryService) SendToExpert(ctx context.Context, channelName, expertChannelID, text string) error {
	adapter, err := s.adapterFor(channelName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = adapter.Send(ctx, expertChannelID, delivery.Decision{FreeForm: true, Payload: text})
	return err
}

// windowOpen consults the adapter's window capability, memoized in the
// L1 cache for windowTTL to keep delivery decisions off the store.
func (s *DeliveryService) windowOpen(ctx context.Context, adapter channel.Adapter, conversationID string) (bool, error) {
	key := "window:" + adapter.Name() + ":" + conversationID

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok && len(data) == 1 {
			return data[0] == 1, nil
		}
	}

	open, err := adapter.IsFreeFormWindowOpen(ctx, conversationID)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		val := []byte{0}
		if open {
			val[0] = 1
		}
		_ = s.cache.Set(ctx, key, val, s.windowTTL)
	}
	return open, nil
}

// InvalidateWindow notes an inbound message on the conversation's
// adapter and drops the cached window state, since the inbound reopens
// the provider window.
func (s *DeliveryService) InvalidateWindow(ctx context.Context, channelName, conversationID string) {
	if a, err := s.adapterFor(channelName); err == nil {
		if obs, ok := a.(channel.InboundObserver); ok {
			obs.NoteInbound(conversationID, time.Now())
		}
	}
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, "window:"+channelName+":"+conversationID)
}
