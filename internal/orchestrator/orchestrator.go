package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowpbx/dialer/internal/esl"
	"golang.org/x/time/rate"
)

// latencyObserver receives one bridge's answer-latency sample. Implemented
// by *metrics.Collector; kept as an interface here so this package never
// imports internal/metrics.
type latencyObserver interface {
	ObserveAnswerLatency(d time.Duration)
}

// Config configures an Orchestrator. All timeout fields default to the
// values in §4.3 when zero.
type Config struct {
	Gateway   string
	DIDNumber string

	ConnectTimeout      time.Duration
	AgentAnswerTimeout  time.Duration
	LeadAnswerTimeout   time.Duration
	EarlyMediaConfirmMS time.Duration

	OriginateRate  float64
	OriginateBurst int
}

func (c Config) withDefaults() Config {
	if c.AgentAnswerTimeout == 0 {
		c.AgentAnswerTimeout = 30 * time.Second
	}
	if c.LeadAnswerTimeout == 0 {
		c.LeadAnswerTimeout = 60 * time.Second
	}
	if c.EarlyMediaConfirmMS == 0 {
		c.EarlyMediaConfirmMS = 500 * time.Millisecond
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.OriginateRate == 0 {
		c.OriginateRate = 5
	}
	if c.OriginateBurst == 0 {
		c.OriginateBurst = 10
	}
	return c
}

// Orchestrator drives every in-flight Call through its state machine. One
// Orchestrator owns one ESL connection; it is the single
// "*orchestrator.Orchestrator owned by process startup" the design notes
// call for in place of a package-level global.
type Orchestrator struct {
	client    *esl.Client
	registry  *callRegistry
	recorder  recorder
	latency   latencyObserver
	logger    *slog.Logger
	gateway   string
	didNumber string
	timeouts  legTimeouts

	bridgeFailures atomic.Int64

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	rate       rate.Limit
	burst      int

	listenersMu sync.Mutex
	listeners   []LifecycleListener
}

// New creates an Orchestrator bound to an already-connected ESL client.
// rec may be nil to disable recording entirely (tests exercising the
// bridge-and-hangup path without a Recording Manager); latency may be nil
// to skip answer-latency instrumentation.
func New(client *esl.Client, cfg Config, rec recorder, latency latencyObserver, logger *slog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		client:    client,
		registry:  newCallRegistry(logger),
		recorder:  rec,
		latency:   latency,
		logger:    logger.With("subsystem", "orchestrator"),
		gateway:   cfg.Gateway,
		didNumber: cfg.DIDNumber,
		timeouts: legTimeouts{
			connect:             cfg.ConnectTimeout,
			agentAnswer:         cfg.AgentAnswerTimeout,
			leadAnswer:          cfg.LeadAnswerTimeout,
			earlyMediaConfirmMS: cfg.EarlyMediaConfirmMS,
		},
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(cfg.OriginateRate),
		burst:    cfg.OriginateBurst,
	}
}

// StartCall originates both legs of req and blocks until they are bridged
// and recording has started, or until establishment fails. The Call's own
// lifetime is governed by an independent context (stored as call.cancel,
// driven by CancelCall) so that once StartCall returns successfully, the
// conversation keeps running and stays cancellable regardless of what
// happens to the ctx the caller passed in; ctx here only bounds how long
// the caller is willing to wait for establishment, consistent with
// context.Context's normal "bound this blocking call" role. If ctx is
// cancelled while establishment is still in flight, the call itself is
// cancelled too, since nothing would otherwise be left waiting on it.
func (o *Orchestrator) StartCall(ctx context.Context, req Request) (StartResult, error) {
	select {
	case <-o.client.Done():
		return StartResult{}, newErr(KindConnectError, o.client.Err())
	default:
	}

	callCtx, cancel := context.WithCancel(context.Background())
	call := &Call{
		CallID:    req.CallID,
		AccountID: req.AccountID,
		Request:   req,
		State:     CallStateIdle,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	o.registry.add(call)

	type outcome struct {
		result StartResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := o.establish(callCtx, call, o.gateway)
		done <- outcome{result, err}
		if err == nil {
			o.awaitHangup(callCtx, call)
		}
	}()

	select {
	case res := <-done:
		return res.result, res.err
	case <-ctx.Done():
		cancel()
		return StartResult{}, ctx.Err()
	}
}

// CancelCall cancels an in-flight call. It is a no-op returning nil if the
// call is already terminal, and fails with NotFound if callID is unknown.
func (o *Orchestrator) CancelCall(callID string) error {
	call := o.registry.get(callID)
	if call == nil {
		return newErr(KindNotFound, nil)
	}
	if call.State.Terminal() {
		return nil
	}
	if call.cancel != nil {
		call.cancel()
	}
	return nil
}

// GetCall returns the current snapshot of a tracked Call, or nil if callID
// is unknown. Intended for callers persisting state to an external
// CallRepository from a LifecycleEvent, which carries only the fields that
// changed.
func (o *Orchestrator) GetCall(callID string) *Call {
	return o.registry.get(callID)
}

// HangupLeg issues uuid_kill against an arbitrary channel uuid, regardless
// of whether it belongs to a tracked Call.
func (o *Orchestrator) HangupLeg(uuid string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := o.client.API(ctx, "uuid_kill "+uuid)
	return err
}

// OnLifecycleEvent registers a listener invoked synchronously on every
// state transition of every Call.
func (o *Orchestrator) OnLifecycleEvent(l LifecycleListener) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, l)
}

// setState transitions call.State and notifies listeners. cause is nil for
// non-terminal transitions.
func (o *Orchestrator) setState(call *Call, state CallState, cause error) {
	call.State = state
	if state.Terminal() {
		call.Err = cause
		if call.EndedAt.IsZero() {
			call.EndedAt = time.Now()
		}
	}

	o.logger.Info("call state transition",
		"call_id", call.CallID,
		"state", state,
		"error", cause,
	)

	o.notify(LifecycleEvent{
		CallID:       call.CallID,
		State:        state,
		Cause:        cause,
		RecordingURL: call.RecordingURL,
	})
}

// fail transitions call to Failed (or Cancelled, for KindCancelled) and
// kills whichever legs exist.
func (o *Orchestrator) fail(call *Call, err error) {
	state := CallStateFailed
	if oe, ok := err.(*OrchestratorError); ok && oe.Kind == KindCancelled {
		state = CallStateCancelled
	}

	if call.Agent != nil {
		o.killLeg(call.Agent.UUID)
	}
	if call.Lead != nil {
		o.killLeg(call.Lead.UUID)
	}

	if oe, ok := err.(*OrchestratorError); ok && oe.Kind == KindBridgeFailed {
		o.bridgeFailures.Add(1)
	}

	o.setState(call, state, err)
}

func (o *Orchestrator) notify(ev LifecycleEvent) {
	o.listenersMu.Lock()
	listeners := make([]LifecycleListener, len(o.listeners))
	copy(listeners, o.listeners)
	o.listenersMu.Unlock()

	for _, l := range listeners {
		o.invokeListener(l, ev)
	}
}

func (o *Orchestrator) invokeListener(l LifecycleListener, ev LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("lifecycle listener panicked", "panic", r)
		}
	}()
	l(ev)
}

// waitForGatewaySlot blocks until the per-gateway rate limiter admits one
// more originate, or ctx is cancelled, or the transport goes down.
func (o *Orchestrator) waitForGatewaySlot(ctx context.Context, gateway string) error {
	limiter := o.limiterFor(gateway)

	reserveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-o.client.Done():
			cancel()
		case <-done:
		}
	}()
	defer close(done)

	if err := limiter.Wait(reserveCtx); err != nil {
		select {
		case <-o.client.Done():
			return newErr(KindDisconnected, o.client.Err())
		default:
			return newErr(KindCancelled, nil)
		}
	}
	return nil
}

func (o *Orchestrator) limiterFor(gateway string) *rate.Limiter {
	o.limitersMu.Lock()
	defer o.limitersMu.Unlock()

	l, ok := o.limiters[gateway]
	if !ok {
		l = rate.NewLimiter(o.rate, o.burst)
		o.limiters[gateway] = l
	}
	return l
}

// ActiveCalls implements the metrics package's ActiveCallsProvider.
func (o *Orchestrator) ActiveCalls() int {
	return o.registry.activeCount()
}

// LegsByState implements the metrics package's LegStateProvider.
func (o *Orchestrator) LegsByState() map[string]int {
	counts := o.registry.countLegsByState()
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	return out
}

// BridgeFailures implements the metrics package's BridgeFailureCounter.
func (o *Orchestrator) BridgeFailures() int64 {
	return o.bridgeFailures.Load()
}

// Connected reports whether the underlying ESL connection is currently
// usable, for both /healthz and IntegrationStatusReporter callers.
func (o *Orchestrator) Connected() bool {
	select {
	case <-o.client.Done():
		return false
	default:
		return true
	}
}
