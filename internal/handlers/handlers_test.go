package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyberdevstudio/internal/auth"
	"cyberdevstudio/internal/dispatch"
	"cyberdevstudio/internal/projects"
	"cyberdevstudio/internal/rpc"
	"cyberdevstudio/internal/sandbox/fsops"
	"cyberdevstudio/internal/sberrors"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	fs, err := fsops.New(t.TempDir(), 1<<20)
	require.NoError(t, err)

	store, err := projects.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return Deps{FS: fs, Projects: store, Dispatch: dispatch.New(dispatch.Config{})}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	buf, err := json.Marshal(v)
	require.NoError(t, err)
	return buf
}

func TestFsWriteThenFsRead(t *testing.T) {
	d := newTestDeps(t)
	principal := auth.Principal{UserID: "u1"}

	_, err := d.fsWrite(mustJSON(t, writeParams{Path: "a.txt", Data: []byte("hello")}), principal)
	require.NoError(t, err)

	got, err := d.fsRead(mustJSON(t, pathParams{Path: "a.txt"}), principal)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestFsRead_MissingParamsIsInvalidOperation(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.fsRead(nil, auth.Principal{})
	se, ok := sberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, sberrors.KindInvalidOperation, se.Kind)
}

func TestProjectCreate_CreatesRowAndWorkspaceDir(t *testing.T) {
	d := newTestDeps(t)
	principal := auth.Principal{UserID: "owner1"}

	result, err := d.projectCreate(mustJSON(t, createProjectParams{Name: "demo", Language: "go"}), principal)
	require.NoError(t, err)
	project := result.(*projects.Project)
	assert.Equal(t, "owner1", project.OwnerID)

	entries, err := d.FS.List(project.Workspace)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProjectGet_ForbiddenForNonOwner(t *testing.T) {
	d := newTestDeps(t)
	owner := auth.Principal{UserID: "owner1"}
	other := auth.Principal{UserID: "intruder"}

	created, err := d.projectCreate(mustJSON(t, createProjectParams{Name: "demo"}), owner)
	require.NoError(t, err)
	project := created.(*projects.Project)

	_, err = d.projectGet(mustJSON(t, projectIDParams{ID: project.ID}), other)
	assert.ErrorIs(t, err, rpc.ErrForbidden)
}

func TestProjectGet_AdminBypassesOwnershipCheck(t *testing.T) {
	d := newTestDeps(t)
	owner := auth.Principal{UserID: "owner1"}
	admin := auth.Principal{UserID: "admin1", Role: "admin"}

	created, err := d.projectCreate(mustJSON(t, createProjectParams{Name: "demo"}), owner)
	require.NoError(t, err)
	project := created.(*projects.Project)

	_, err = d.projectGet(mustJSON(t, projectIDParams{ID: project.ID}), admin)
	assert.NoError(t, err)
}

func TestMicroExecute_RejectsNonUTF8Code(t *testing.T) {
	d := newTestDeps(t)
	// Built by hand: json.Marshal would replace the invalid bytes with U+FFFD.
	params := json.RawMessage(`{"vm_id":"v1","code":"print(\"` + "\xff\xfe" + `\")"}`)
	_, err := d.microExecute(params, auth.Principal{})
	se, ok := sberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, sberrors.KindInvalidOperation, se.Kind)
}

func TestAgentStatus_UnknownIDIsAgentTaskNotFound(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.agentStatus(mustJSON(t, taskIDParams{ID: "nope"}), auth.Principal{})
	se, ok := sberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, sberrors.KindAgentTaskNotFound, se.Kind)
}
