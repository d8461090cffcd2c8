package completion

import (
	"context"
	"encoding/json"

	"flowplane/internal/logger"
	"flowplane/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EscalateRequest describes a failed scheduled run that needs its failure handler.
type EscalateRequest struct {
	Schedule   *store.Schedule
	ScriptPath string
	Result     json.RawMessage
}

// Escalator enqueues failure-handler jobs for schedules that declare one.
type Escalator struct {
	scripts store.ScriptStore
	pending store.PendingStore
	log     *zap.SugaredLogger
}

// NewEscalator creates an Escalator.
func NewEscalator(scripts store.ScriptStore, pending store.PendingStore, log *zap.SugaredLogger) *Escalator {
	return &Escalator{scripts: scripts, pending: pending, log: logger.OrNop(log)}
}

// Escalate pushes the schedule's on_failure handler inside tx. The handler runs as the
// schedule's last editor and receives the failure result plus schedule_path and path.
// The handler's own outcome is not awaited.
func (e *Escalator) Escalate(ctx context.Context, tx store.QueueTx, req EscalateRequest) (uuid.UUID, error) {
	sch := req.Schedule
	if sch.OnFailure == nil {
		return uuid.Nil, errors.Newf("schedule %s has no failure handler", sch.Path)
	}

	payload, tag, err := e.scripts.ResolvePayload(ctx, tx, sch.WorkspaceID, *sch.OnFailure)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "resolve failure handler %s", *sch.OnFailure)
	}

	args, err := handlerArgs(req.Result, sch.Path, req.ScriptPath)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := e.pending.Push(ctx, tx, store.PushRequest{
		WorkspaceID:    sch.WorkspaceID,
		Payload:        payload,
		Args:           args,
		CreatedBy:      sch.EditedBy,
		Email:          sch.Email,
		PermissionedAs: store.PermissionedAs(sch.EditedBy),
		Tag:            tag,
	})
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "push failure handler %s", *sch.OnFailure)
	}

	logger.FromContext(ctx, e.log).Infow("Pushed failure handler",
		"handler_job_id", id, "handler", *sch.OnFailure, "schedule_path", sch.Path, "workspace_id", sch.WorkspaceID)
	return id, nil
}

// handlerArgs starts from result when it is a JSON object and adds the reserved keys.
func handlerArgs(result json.RawMessage, schedulePath, scriptPath string) (json.RawMessage, error) {
	var args map[string]json.RawMessage
	if err := json.Unmarshal(result, &args); err != nil || args == nil {
		args = make(map[string]json.RawMessage, 2)
	}

	var err error
	if args["schedule_path"], err = json.Marshal(schedulePath); err != nil {
		return nil, errors.Wrap(err, "encode schedule_path")
	}
	if args["path"], err = json.Marshal(scriptPath); err != nil {
		return nil, errors.Wrap(err, "encode path")
	}

	out, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "encode handler args")
	}
	return out, nil
}
