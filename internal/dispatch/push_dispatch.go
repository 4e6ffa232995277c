package dispatch

import (
	"context"
	"errors"

	"github.com/example/trip-allocation/internal/models"
)

// PushNotifier prefers a live websocket session and falls back to the
// webhook when the driver is not connected.
type PushNotifier struct {
	WS       *WSRegistry
	Fallback Notifier
}

func NewPushNotifier(ws *WSRegistry, fallback Notifier) *PushNotifier {
	return &PushNotifier{WS: ws, Fallback: fallback}
}

func (p *PushNotifier) Notify(ctx context.Context, ev models.TripEvent) error {
	if p.WS != nil {
		err := p.WS.Notify(ctx, ev)
		if err == nil {
			return nil
		}
		if p.Fallback == nil || !errors.Is(err, ErrNoSession) {
			return err
		}
	}
	if p.Fallback == nil {
		return ErrNoSession
	}
	return p.Fallback.Notify(ctx, ev)
}
