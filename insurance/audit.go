package insurance

import (
	"context"
	"time"
)

// EntityType names the kind of record an audit event refers to.
type EntityType string

const (
	EntityPolicy         EntityType = "POLICY"
	EntityClaim          EntityType = "CLAIM"
	EntityTreaty         EntityType = "TREATY"
	EntityReinsurer      EntityType = "REINSURER"
	EntityRiskAllocation EntityType = "RISK_ALLOCATION"
	EntityUser           EntityType = "USER"
)

// AuditAction is the operation recorded by an audit event.
type AuditAction string

const (
	ActionCreate      AuditAction = "CREATE"
	ActionUpdate      AuditAction = "UPDATE"
	ActionApprove     AuditAction = "APPROVE"
	ActionReject      AuditAction = "REJECT"
	ActionSuspend     AuditAction = "SUSPEND"
	ActionTransition  AuditAction = "STATUS_CHANGE"
	ActionRecalculate AuditAction = "RECALCULATE"
	ActionLogin       AuditAction = "LOGIN"
)

// AuditEvent is emitted by each lifecycle operation at the point of mutation.
// OldValue and NewValue hold entity snapshots and are encoded by the sink.
type AuditEvent struct {
	ID          string
	EntityType  EntityType
	EntityID    string
	Action      AuditAction
	OldValue    any
	NewValue    any
	PerformedBy UserID
	PerformedAt time.Time
	IPAddress   string
}

// AuditSink receives audit events. Record never fails the caller: sinks log
// their own failures.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// NopAuditSink discards events.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEvent) {}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID        UserID
	Role      Role
	IPAddress string
}

// SystemActor is used for background recalculation.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// Event builds an audit event attributed to the actor.
func (a Actor) Event(entity EntityType, id string, action AuditAction, oldValue, newValue any, at time.Time) AuditEvent {
	return AuditEvent{
		EntityType:  entity,
		EntityID:    id,
		Action:      action,
		OldValue:    oldValue,
		NewValue:    newValue,
		PerformedBy: a.ID,
		PerformedAt: at,
		IPAddress:   a.IPAddress,
	}
}
