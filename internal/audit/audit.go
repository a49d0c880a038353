package audit

import (
	"context"

	"github.com/weiawesome/wes-io-broadcast/pkg/log"
)

// Audit actions.
const (
	ActionJoinRoom       = "broadcast.join_room"
	ActionSendMessage    = "broadcast.send_message"
	ActionRequestInvoice = "broadcast.request_invoice"
	ActionBoostDelivered = "broadcast.boost_delivered"
	ActionDisconnect     = "broadcast.disconnect"
	ActionScheduleVideo  = "video.schedule"
	ActionStreamLive     = "video.live"
	ActionStreamEnded    = "video.ended"
	ActionPublished      = "video.published"
	ActionFailed         = "video.failed"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldActor  = "actor"
	FieldTarget = "target"
	FieldDetail = "detail"
)

// Actors for entries not caused by a viewer.
const (
	ActorMonitor = "monitor"
	ActorIngest  = "ingest"
	ActorPayment = "payment"
	ActorAPI     = "api"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, actor, target, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldActor, actor).
		Str(FieldTarget, target).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, actor, target, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldActor, actor).
		Str(FieldTarget, target).
		Str(FieldDetail, detail).
		Msg(msg)
}
