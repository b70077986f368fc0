package monitor

import (
	"context"
	"strconv"
	"strings"

	"github.com/looplab/fsm"
)

// End reasons, in the priority order of §4.8.4.
const (
	ReasonSessionCompletion = "session_completion"
	ReasonCloseRequested    = "close_requested"
	ReasonInactivityTimeout = "inactivity_timeout"
	ReasonMaxDuration       = "max_duration"
	ReasonUserStopped       = "user_stopped"
	ReasonZombie            = "zombie"
)

const (
	phaseOpen   = "open"
	phaseClosed = "closed"
)

// endReasonLatch is a one-shot close decision, built on looplab/fsm the
// same way the gateway's connection FSM (internal/gateway.NewConnectionFSM)
// models its states: once closed by the first reason that fires in
// priority order, every later attempt to close for a different reason is
// simply rejected by the library instead of needing an extra "already
// decided" boolean at every call site.
type endReasonLatch struct {
	machine *fsm.FSM
	reason  string
}

func newEndReasonLatch() *endReasonLatch {
	l := &endReasonLatch{}
	l.machine = fsm.NewFSM(
		phaseOpen,
		fsm.Events{
			{Name: ReasonSessionCompletion, Src: []string{phaseOpen}, Dst: phaseClosed},
			{Name: ReasonCloseRequested, Src: []string{phaseOpen}, Dst: phaseClosed},
			{Name: ReasonInactivityTimeout, Src: []string{phaseOpen}, Dst: phaseClosed},
			{Name: ReasonMaxDuration, Src: []string{phaseOpen}, Dst: phaseClosed},
			{Name: ReasonUserStopped, Src: []string{phaseOpen}, Dst: phaseClosed},
		},
		fsm.Callbacks{
			"enter_" + phaseClosed: func(_ interface{}, e *fsm.Event) {
				l.reason = e.Event
			},
		},
	)
	return l
}

// close latches reason if nothing has closed this conversation yet. It
// returns true the first time it's called (the decision stuck).
func (l *endReasonLatch) close(ctx context.Context, reason string) bool {
	return l.machine.Event(ctx, reason) == nil
}

func (l *endReasonLatch) closed() bool { return l.machine.Current() == phaseClosed }

// normalizeSpeaker applies §4.8.3's speaker-field rule.
func normalizeSpeaker(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "none") {
		return "SPEAKER_00"
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		return "Speaker " + strconv.Itoa(n)
	}
	return trimmed
}
