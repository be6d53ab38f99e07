package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowpbx/dialer/internal/esl"
	"github.com/google/uuid"
)

// recorder starts recording once both legs are bridged and returns the
// filename to store against the Call together with the base URL the
// recording is served under. Implemented by
// internal/recording.Manager; kept as an interface here so this package
// never imports internal/recording.
type recorder interface {
	Start(ctx context.Context, callID, agentUUID, leadUUID string) (filename string, baseURL string)
}

// legTimeouts bundles the configurable waits §4.3 names, so originate.go
// never reaches into the Orchestrator struct's every field.
type legTimeouts struct {
	connect             time.Duration
	agentAnswer         time.Duration
	leadAnswer          time.Duration
	earlyMediaConfirmMS time.Duration
}

// establish drives one Call through the primary "separate originate +
// uuid_bridge" path (§4.3), up through the point of a successful bridge
// and recording start. It is the synchronous half of StartCall: every step
// transitions o.setState and either proceeds or fails out to Failed,
// always killing any leg it originated before returning. The hangup wait
// (§4.3 step 8) happens afterwards, in awaitHangup, so a caller blocked on
// StartCall is released as soon as the call is actually talking.
func (o *Orchestrator) establish(ctx context.Context, call *Call, gw string) (StartResult, error) {
	agentUUID := uuid.NewString()
	call.Agent = &Leg{UUID: agentUUID, Role: LegRoleAgent, State: LegStateOriginating, CallID: call.CallID}

	o.setState(call, CallStateStartingAgent, nil)

	if err := o.waitForGatewaySlot(ctx, gw); err != nil {
		o.fail(call, err)
		return StartResult{}, err
	}

	agentCmd := originateCommand(agentUUID, call.Request.AgentNumber, gw, "", "&echo()", o.timeouts.agentAnswer)
	call.AgentOriginatedAt = time.Now()
	if resp, err := o.api(ctx, agentCmd); err != nil || !strings.HasPrefix(resp, "+OK") {
		if err == nil {
			err = fmt.Errorf("originate: %s", resp)
		}
		err = newErr(KindOriginateRejected, err)
		o.fail(call, err)
		return StartResult{}, err
	}

	o.setState(call, CallStateWaitingAgentAnswer, nil)

	if err := o.confirmAnswer(ctx, agentUUID, o.timeouts.agentAnswer); err != nil {
		err = translateAnswerError(err, KindAgentNoAnswer)
		o.fail(call, err)
		return StartResult{}, err
	}
	call.Agent.State = LegStateAnswered

	leadUUID := uuid.NewString()
	call.Lead = &Leg{UUID: leadUUID, Role: LegRoleLead, State: LegStateOriginating, CallID: call.CallID}

	o.setState(call, CallStateDialingLead, nil)

	if err := o.waitForGatewaySlot(ctx, gw); err != nil {
		o.fail(call, err)
		return StartResult{}, err
	}

	leadCmd := originateCommand(leadUUID, call.Request.LeadNumber, gw, o.didNumber, "&park()", o.timeouts.leadAnswer)
	if resp, err := o.api(ctx, leadCmd); err != nil || !strings.HasPrefix(resp, "+OK") {
		if err == nil {
			err = fmt.Errorf("originate: %s", resp)
		}
		err = newErr(KindOriginateRejected, err)
		o.fail(call, err)
		return StartResult{}, err
	}

	o.setState(call, CallStateWaitingLeadAnswer, nil)

	if _, err := waitForEvent(ctx, o.client.Router, o.client.Done(), "CHANNEL_ANSWER", leadUUID, o.timeouts.leadAnswer); err != nil {
		err = translateAnswerError(err, KindLeadNoAnswer)
		o.fail(call, err)
		return StartResult{}, err
	}
	call.Lead.State = LegStateAnswered

	// Best-effort: stop the agent's echo before bridging. Advisory only.
	if _, err := o.api(ctx, fmt.Sprintf("uuid_broadcast %s stop:::-1", agentUUID)); err != nil {
		o.logger.Warn("uuid_broadcast stop failed, continuing", "call_id", call.CallID, "error", err)
	}

	o.setState(call, CallStateBridging, nil)

	resp, err := o.api(ctx, fmt.Sprintf("uuid_bridge %s %s", agentUUID, leadUUID))
	if err != nil || !strings.HasPrefix(resp, "+OK") {
		if err == nil {
			err = fmt.Errorf("uuid_bridge: %s", resp)
		}
		err = newErr(KindBridgeFailed, err)
		o.fail(call, err)
		return StartResult{}, err
	}
	call.Agent.State = LegStateBridged
	call.Lead.State = LegStateBridged
	call.AnsweredAt = time.Now()

	if o.recorder != nil {
		filename, baseURL := o.recorder.Start(ctx, call.CallID, agentUUID, leadUUID)
		call.RecordingFile = filename
		call.RecordingURL = strings.TrimRight(baseURL, "/") + "/" + filename
	}

	if o.latency != nil && !call.AgentOriginatedAt.IsZero() {
		o.latency.ObserveAnswerLatency(time.Since(call.AgentOriginatedAt))
	}

	o.setState(call, CallStateBridged, nil)

	return StartResult{AgentUUID: agentUUID, LeadUUID: leadUUID, RecordingFile: call.RecordingFile}, nil
}

// confirmAnswer waits for CHANNEL_ANSWER, then applies the early-media
// filter: a 500ms delay followed by uuid_exists returning true. Either
// failing maps to the AgentNoAnswer family (§7: "EarlyMedia ... treated as
// AgentNoAnswer").
func (o *Orchestrator) confirmAnswer(ctx context.Context, uuid string, timeout time.Duration) error {
	if _, err := waitForEvent(ctx, o.client.Router, o.client.Done(), "CHANNEL_ANSWER", uuid, timeout); err != nil {
		return err
	}

	if err := sleep(ctx, o.client.Done(), o.timeouts.earlyMediaConfirmMS); err != nil {
		return err
	}

	resp, err := o.api(ctx, "uuid_exists "+uuid)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, "true") {
		return fmt.Errorf("early media: uuid_exists returned %q", resp)
	}
	return nil
}

// awaitHangup waits for CHANNEL_HANGUP_COMPLETE on either leg, then
// completes the Call and kills whichever leg survives.
func (o *Orchestrator) awaitHangup(ctx context.Context, call *Call) {
	agentDone := make(chan esl.Event, 1)
	leadDone := make(chan esl.Event, 1)

	agentID, agentCh := o.client.Router.SubscribeOnce("CHANNEL_HANGUP_COMPLETE", call.Agent.UUID)
	leadID, leadCh := o.client.Router.SubscribeOnce("CHANNEL_HANGUP_COMPLETE", call.Lead.UUID)

	go func() {
		select {
		case ev := <-agentCh:
			agentDone <- ev
		case <-ctx.Done():
		}
	}()
	go func() {
		select {
		case ev := <-leadCh:
			leadDone <- ev
		case <-ctx.Done():
		}
	}()

	select {
	case <-agentDone:
		o.client.Router.Unsubscribe(leadID)
		call.Agent.State = LegStateHungUp
		o.killLeg(call.Lead.UUID)
	case <-leadDone:
		o.client.Router.Unsubscribe(agentID)
		call.Lead.State = LegStateHungUp
		o.killLeg(call.Agent.UUID)
	case <-o.client.Done():
		o.client.Router.Unsubscribe(agentID)
		o.client.Router.Unsubscribe(leadID)
		o.fail(call, newErr(KindDisconnected, nil))
		return
	case <-ctx.Done():
		// Cancelled while bridged: only the agent leg is killed; the lead
		// leg ends through the bridge's own hangup.
		o.client.Router.Unsubscribe(agentID)
		o.client.Router.Unsubscribe(leadID)
		o.killLeg(call.Agent.UUID)
		o.setState(call, CallStateCancelled, newErr(KindCancelled, nil))
		return
	}

	call.EndedAt = time.Now()
	o.setState(call, CallStateCompleted, nil)
}

// killLeg issues a best-effort uuid_kill; failures are logged, not
// propagated, since the leg may already be gone.
func (o *Orchestrator) killLeg(uuid string) {
	if uuid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.client.API(ctx, "uuid_kill "+uuid); err != nil {
		o.logger.Warn("uuid_kill failed", "uuid", uuid, "error", err)
	}
}

// api is a thin wrapper translating transport disconnects into the
// orchestrator's own Disconnected kind.
func (o *Orchestrator) api(ctx context.Context, cmd string) (string, error) {
	resp, err := o.client.API(ctx, cmd)
	if err != nil {
		return "", newErr(KindDisconnected, err)
	}
	return resp, nil
}

// originateCommand builds the "api originate {...}sofia/gateway/..." string
// for §4.3, steps 1 and 3. app is "&echo()" for the agent leg or "&park()"
// for the lead leg. callerID, when non-empty, is presented as the caller
// id on that leg (dialer.didNumber, used for the lead leg only). Both legs
// get the same channel variables, continue_on_fail=true included, and
// originate_timeout is timeout in whole seconds: the caller passes the
// leg's answer budget, so it is 30 for the agent and 60 for the lead with
// the default timeouts.
func originateCommand(originationUUID, number, gateway, callerID, app string, timeout time.Duration) string {
	vars := fmt.Sprintf(
		"origination_uuid=%s,ignore_early_media=false,hangup_after_bridge=false,continue_on_fail=true,originate_timeout=%d,bypass_media=false,proxy_media=false",
		originationUUID, int(timeout.Seconds()),
	)
	if callerID != "" {
		vars += fmt.Sprintf(",origination_caller_id_number=%s", callerID)
	}
	return fmt.Sprintf("originate {%s}sofia/gateway/%s/%s %s", vars, gateway, number, app)
}

// translateAnswerError maps a waitForEvent/confirmAnswer failure to the
// correct OrchestratorError kind: a plain timeout or an early-media
// rejection both become the given "no answer" kind, while a disconnect or
// cancellation keep their own kind.
func translateAnswerError(err error, noAnswerKind ErrorKind) error {
	switch {
	case err == errWaitTimeout:
		return newErr(noAnswerKind, nil)
	case err == ErrDisconnectedMid:
		return newErr(KindDisconnected, err)
	case err == context.Canceled:
		return newErr(KindCancelled, nil)
	case err == context.DeadlineExceeded:
		return newErr(noAnswerKind, nil)
	default:
		// uuid_exists false, or an API error during the confirmation step.
		return newErr(noAnswerKind, err)
	}
}
