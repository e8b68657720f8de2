// Package handlers binds each sandbox component to the RPC method name
// clients call it by. It holds no policy of its own beyond request
// decoding and the project-ownership check every project-scoped method
// needs; everything else is delegated straight to the component that owns
// it.
package handlers

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cyberdevstudio/internal/auth"
	"cyberdevstudio/internal/dispatch"
	"cyberdevstudio/internal/projects"
	"cyberdevstudio/internal/rpc"
	"cyberdevstudio/internal/sandbox/fsops"
	"cyberdevstudio/internal/sandbox/microvm"
	"cyberdevstudio/internal/sandbox/runner"
	"cyberdevstudio/internal/sandbox/wasmrun"
	"cyberdevstudio/internal/sberrors"
	"cyberdevstudio/internal/telemetry"
)

// Deps collects every sandbox component a handler may delegate to. All
// fields are required except Telemetry, which defaults to a no-op recorder.
type Deps struct {
	FS         *fsops.Sandbox
	Run        *runner.Runner
	Wasm       *wasmrun.Runner
	Micro      *microvm.Runner
	Dispatch   *dispatch.Dispatcher
	Projects   *projects.Store
	Telemetry  telemetry.Recorder
}

// Register binds every sandbox operation to its RPC method name on r.
func Register(r *rpc.Router, d Deps) {
	if d.Telemetry == nil {
		d.Telemetry = telemetry.Noop()
	}

	r.Register("fs.read", d.fsRead)
	r.Register("fs.write", d.fsWrite)
	r.Register("fs.delete", d.fsDelete)
	r.Register("fs.mkdir", d.fsMkdir)
	r.Register("fs.copy", d.fsCopy)
	r.Register("fs.move", d.fsMove)
	r.Register("fs.list", d.fsList)

	r.Register("run.execute", d.runExecute)

	r.Register("wasm.invoke", d.wasmInvoke)

	r.Register("micro.start", d.microStart)
	r.Register("micro.execute", d.microExecute)
	r.Register("micro.stop", d.microStop)

	r.Register("agent.dispatch", d.agentDispatch)
	r.Register("agent.status", d.agentStatus)
	r.Register("agent.cancel", d.agentCancel)
	r.Register("agent.history", d.agentHistory)
	r.Register("agent.list", d.agentList)

	r.Register("project.create", d.projectCreate)
	r.Register("project.get", d.projectGet)
	r.Register("project.list", d.projectList)
	r.Register("project.archive", d.projectArchive)
	r.Register("project.delete", d.projectDelete)
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return sberrors.InvalidOperation("missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return sberrors.InvalidOperation("invalid params: " + err.Error())
	}
	return nil
}

// --- filesystem ---

type pathParams struct {
	Path string `json:"path"`
}

func (d Deps) fsRead(params json.RawMessage, _ auth.Principal) (any, error) {
	var p pathParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return d.FS.Read(p.Path)
}

type writeParams struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

func (d Deps) fsWrite(params json.RawMessage, _ auth.Principal) (any, error) {
	var p writeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := d.FS.Write(p.Path, p.Data); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d Deps) fsDelete(params json.RawMessage, _ auth.Principal) (any, error) {
	var p pathParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, d.FS.Delete(p.Path)
}

func (d Deps) fsMkdir(params json.RawMessage, _ auth.Principal) (any, error) {
	var p pathParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, d.FS.Mkdir(p.Path)
}

type copyMoveParams struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (d Deps) fsCopy(params json.RawMessage, _ auth.Principal) (any, error) {
	var p copyMoveParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, d.FS.Copy(p.Src, p.Dst)
}

func (d Deps) fsMove(params json.RawMessage, _ auth.Principal) (any, error) {
	var p copyMoveParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return nil, d.FS.Move(p.Src, p.Dst)
}

type listParams struct {
	Dir string `json:"dir"`
}

func (d Deps) fsList(params json.RawMessage, _ auth.Principal) (any, error) {
	var p listParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return d.FS.List(p.Dir)
}

// --- process runner ---

func (d Deps) runExecute(params json.RawMessage, _ auth.Principal) (any, error) {
	var req runner.Request
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	started := time.Now()
	out, err := d.Run.Execute(context.Background(), req)
	d.Telemetry.RunCompleted(req.Program, time.Since(started), out.ExitCode)
	return out, err
}

// --- wasm ---

func (d Deps) wasmInvoke(params json.RawMessage, _ auth.Principal) (any, error) {
	var inv wasmrun.Invocation
	if err := decode(params, &inv); err != nil {
		return nil, err
	}
	started := time.Now()
	values, err := d.Wasm.Invoke(context.Background(), inv)
	trapped := false
	if se, ok := sberrors.As(err); ok && se.Kind == sberrors.KindWasmTrap {
		trapped = true
	}
	d.Telemetry.WasmInvoked(time.Since(started), inv.Fuel, trapped)
	return values, err
}

// --- micro-VM ---

type microStartParams struct {
	Image      string `json:"image"`
	InitScript string `json:"init_script"`
}

func (d Deps) microStart(params json.RawMessage, _ auth.Principal) (any, error) {
	var p microStartParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	inst, err := d.Micro.Start(context.Background(), p.Image, p.InitScript)
	if err == nil {
		d.Telemetry.MicroInstanceStarted(p.Image)
	}
	return inst, err
}

type microExecuteParams struct {
	VMID    string        `json:"vm_id"`
	Code    string        `json:"code"`
	Timeout time.Duration `json:"timeout"`
}

func (d Deps) microExecute(params json.RawMessage, _ auth.Principal) (any, error) {
	// encoding/json replaces invalid UTF-8 with U+FFFD while decoding, so the
	// check runs on the raw params before they are decoded.
	if !utf8.Valid(params) {
		return nil, sberrors.InvalidOperation("code must be valid UTF-8")
	}
	var p microExecuteParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return d.Micro.Execute(context.Background(), p.VMID, p.Code, p.Timeout)
}

type microStopParams struct {
	VMID  string `json:"vm_id"`
	Image string `json:"image"`
}

func (d Deps) microStop(params json.RawMessage, _ auth.Principal) (any, error) {
	var p microStopParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	err := d.Micro.Stop(p.VMID)
	if err == nil {
		d.Telemetry.MicroInstanceStopped(p.Image)
	}
	return nil, err
}

// --- agent dispatch ---

func (d Deps) agentDispatch(params json.RawMessage, _ auth.Principal) (any, error) {
	var req dispatch.Request
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return d.Dispatch.Dispatch(req)
}

type taskIDParams struct {
	ID string `json:"id"`
}

func (d Deps) agentStatus(params json.RawMessage, _ auth.Principal) (any, error) {
	var p taskIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	task, ok := d.Dispatch.Status(p.ID)
	if !ok {
		return nil, sberrors.AgentTaskNotFound(p.ID)
	}
	return task, nil
}

func (d Deps) agentCancel(params json.RawMessage, _ auth.Principal) (any, error) {
	var p taskIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return d.Dispatch.Cancel(p.ID)
}

type historyParams struct {
	Limit int `json:"limit"`
}

func (d Deps) agentHistory(params json.RawMessage, _ auth.Principal) (any, error) {
	var p historyParams
	if len(params) > 0 {
		if err := decode(params, &p); err != nil {
			return nil, err
		}
	}
	return d.Dispatch.History(p.Limit), nil
}

func (d Deps) agentList(params json.RawMessage, _ auth.Principal) (any, error) {
	return d.Dispatch.ListAgents(), nil
}

// --- projects ---

type createProjectParams struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

func (d Deps) projectCreate(params json.RawMessage, principal auth.Principal) (any, error) {
	var p createProjectParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	project := &projects.Project{
		ID:        id,
		Name:      p.Name,
		Language:  p.Language,
		OwnerID:   principal.UserID,
		Workspace: "projects/" + id,
	}
	if err := d.Projects.Create(project); err != nil {
		return nil, err
	}
	if err := d.FS.Mkdir(project.Workspace); err != nil {
		return nil, err
	}
	return project, nil
}

type projectIDParams struct {
	ID string `json:"id"`
}

func (d Deps) projectGet(params json.RawMessage, principal auth.Principal) (any, error) {
	var p projectIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	project, err := d.Projects.Get(p.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(project, principal); err != nil {
		return nil, err
	}
	return project, nil
}

func (d Deps) projectList(params json.RawMessage, principal auth.Principal) (any, error) {
	return d.Projects.ListByOwner(principal.UserID)
}

func (d Deps) projectArchive(params json.RawMessage, principal auth.Principal) (any, error) {
	var p projectIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	project, err := d.Projects.Get(p.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(project, principal); err != nil {
		return nil, err
	}
	return nil, d.Projects.Archive(p.ID)
}

func (d Deps) projectDelete(params json.RawMessage, principal auth.Principal) (any, error) {
	var p projectIDParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	project, err := d.Projects.Get(p.ID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(project, principal); err != nil {
		return nil, err
	}
	return nil, d.Projects.Delete(p.ID)
}

// requireOwner rejects access to a project neither owned by principal nor
// requested by an admin.
func requireOwner(project projects.Project, principal auth.Principal) error {
	if principal.Role == "admin" || project.OwnerID == principal.UserID {
		return nil
	}
	return rpc.ErrForbidden
}
