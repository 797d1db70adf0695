package audit

import (
	"context"

	"github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

// Audit actions.
const (
	ActionFollow        = "social.follow"
	ActionUnfollow      = "social.unfollow"
	ActionCreateRoom    = "chat.create_room"
	ActionLeaveRoom     = "chat.leave_room"
	ActionRenameRoom    = "chat.rename_room"
	ActionSendMedia     = "chat.send_media"
	ActionSubscribe     = "push.subscribe"
	ActionUnsubscribe   = "push.unsubscribe"
	ActionReadAll       = "notification.read_all"
	ActionMediaRollback = "chat.media_rollback"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, nickname, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldNickname, nickname).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, nickname, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldNickname, nickname).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}
