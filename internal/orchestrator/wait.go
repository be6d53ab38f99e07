package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/flowpbx/dialer/internal/esl"
)

// errWaitTimeout is the internal signal that a wait step's timer fired.
// Callers translate it into the state-specific sentinel (AgentNoAnswer,
// LeadNoAnswer) since the same wait helper serves both.
var errWaitTimeout = errors.New("orchestrator: wait timed out")

// waitForEvent subscribes once to (eventName, uuid), then races the match
// against timeout, the call's own cancellation, and the transport going
// down. Exactly one of these wins; the subscription is always released
// before returning. This is the "Promise + setTimeout -> select" shape
// from the design notes.
func waitForEvent(ctx context.Context, router *esl.Router, transportDone <-chan struct{}, eventName, uuid string, timeout time.Duration) (esl.Event, error) {
	id, ch := router.SubscribeOnce(eventName, uuid)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		router.Unsubscribe(id)
		return nil, errWaitTimeout
	case <-transportDone:
		router.Unsubscribe(id)
		return nil, ErrDisconnectedMid
	case <-ctx.Done():
		router.Unsubscribe(id)
		return nil, ctx.Err()
	}
}

// sleep is a cancellable, transport-aware delay, used for the 500ms
// early-media confirmation step.
func sleep(ctx context.Context, transportDone <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-transportDone:
		return ErrDisconnectedMid
	case <-ctx.Done():
		return ctx.Err()
	}
}
