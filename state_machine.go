package auth

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_MEMBER_STATE_TRANSITION"
	textCodeTerminalState     = "TERMINAL_MEMBER_STATE"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid member state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when moving away from withdrawn or rejected.
var ErrTerminalState = goerrors.New("member state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor  ActorRef
	Member *Member
	From   MemberStatus
	To     MemberStatus
	Meta   TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// MemberStateMachine moves members through the membership lifecycle.
type MemberStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, member *Member, target MemberStatus, opts ...TransitionOption) (*Member, error)
	CanTransition(from, to MemberStatus) bool
}

// MemberStatusUpdater persists status changes.
type MemberStatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status MemberStatus, opts ...StatusUpdateOption) (*Member, error)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*memberStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *memberStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *memberStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *memberStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses validation rules (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// MemberTransitions is the membership lifecycle graph.
var MemberTransitions = map[MemberStatus][]MemberStatus{
	MemberStatusPendingNew:      {MemberStatusActive, MemberStatusRejected},
	MemberStatusActive:          {MemberStatusPendingSuspend, MemberStatusPendingWithdraw},
	MemberStatusPendingSuspend:  {MemberStatusSuspended, MemberStatusActive},
	MemberStatusSuspended:       {MemberStatusPendingRejoin, MemberStatusPendingWithdraw},
	MemberStatusPendingRejoin:   {MemberStatusActive, MemberStatusSuspended},
	MemberStatusPendingWithdraw: {MemberStatusWithdrawn, MemberStatusActive},
}

// NewMemberStateMachine returns the default implementation backed by store.
func NewMemberStateMachine(store MemberStatusUpdater, opts ...StateMachineOption) MemberStateMachine {
	sm := &memberStateMachine{
		store:        store,
		transitions:  make(map[MemberStatus]map[MemberStatus]struct{}, len(MemberTransitions)),
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for from, targets := range MemberTransitions {
		allowed := make(map[MemberStatus]struct{}, len(targets))
		for _, to := range targets {
			allowed[to] = struct{}{}
		}
		sm.transitions[from] = allowed
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type memberStateMachine struct {
	store        MemberStatusUpdater
	transitions  map[MemberStatus]map[MemberStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata    TransitionMetadata
	force       bool
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (sm *memberStateMachine) Transition(ctx context.Context, actor ActorRef, member *Member, target MemberStatus, opts ...TransitionOption) (*Member, error) {
	if member == nil {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "member is nil",
		})
	}

	member.EnsureStatus()
	from := member.Status

	if !target.IsValid() {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"target": target,
			"reason": "unknown target status",
		})
	}

	if from == target {
		return member, nil
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if from.IsTerminal() && !options.force {
		return nil, ErrTerminalState.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if !options.force && !sm.CanTransition(from, target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	tc := TransitionContext{
		Actor:  actor,
		Member: member,
		From:   from,
		To:     target,
		Meta:   options.metadata,
	}

	if err := runHooks(ctx, options.beforeHooks, tc); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("before %s transition hook failed", target))
	}

	updated, err := sm.store.UpdateStatus(ctx, member.ID, target, sm.statusOptions(member, from, target)...)
	if err != nil {
		return nil, err
	}

	if updated != nil {
		*member = *updated
	} else {
		member.Status = target
	}

	if err := runHooks(ctx, options.afterHooks, tc); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("after %s transition hook failed", target))
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventMemberStatusChanged,
		Actor:      actor,
		MemberID:   member.ID,
		FromStatus: from,
		ToStatus:   target,
		Metadata:   transitionMetadata(options.metadata),
	})

	return member, nil
}

func (sm *memberStateMachine) CanTransition(from, to MemberStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *memberStateMachine) statusOptions(member *Member, from, to MemberStatus) []StatusUpdateOption {
	opts := []StatusUpdateOption{}
	now := sm.now()

	switch {
	case to == MemberStatusSuspended:
		at := member.SuspendedAt
		if at == nil {
			at = &now
		}
		opts = append(opts, WithSuspendedAt(at))
	case from == MemberStatusSuspended || from == MemberStatusPendingRejoin:
		opts = append(opts, WithSuspendedAt(nil))
	}

	if to == MemberStatusWithdrawn {
		opts = append(opts, WithWithdrawnAt(&now))
	}

	if to == MemberStatusActive && member.JoinedAt == nil {
		opts = append(opts, WithJoinedAt(&now))
	}

	return opts
}

func runHooks(ctx context.Context, hooks []TransitionHook, tc TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
