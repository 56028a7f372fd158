// ABOUTME: Tests for conversation context, history capping, and agent state
// ABOUTME: Run against the in-process store backend

package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/state"
)

func newTestManager(t *testing.T, maxHistory int) (*Manager, state.Store) {
	t.Helper()
	store := state.NewMemoryStore(nil)
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(ManagerConfig{Store: store, MaxHistory: maxHistory})
	return m, store
}

func TestManager_ContextCreatesOnFirstUse(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	cc, err := m.Context(ctx, "conv-1", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", cc.ConversationID)
	assert.Equal(t, "user-a", cc.UserID)
	assert.Empty(t, cc.Messages)

	// Second call returns the stored context, not a new one
	again, err := m.Context(ctx, "conv-1", "")
	require.NoError(t, err)
	assert.Equal(t, "user-a", again.UserID)
	assert.Equal(t, cc.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestManager_AppendMessageAndHistory(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	_, err := m.AppendMessage(ctx, "conv-1", "user-a", HistoryMessage{Role: RoleUser, Content: "list my VMs"})
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, "conv-1", "user-a", HistoryMessage{Role: RoleAssistant, Content: "you have 3", AgentType: "azure"})
	require.NoError(t, err)

	history, err := m.History(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "you have 3", history[1].Content)
	assert.Equal(t, "azure", history[1].AgentType)
}

func TestManager_HistoryIsCapped(t *testing.T) {
	m, _ := newTestManager(t, 5)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := m.AppendMessage(ctx, "conv-1", "", HistoryMessage{Role: RoleUser, Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
	}

	history, err := m.History(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, "msg 3", history[0].Content, "oldest messages are trimmed first")
	assert.Equal(t, "msg 7", history[4].Content)
}

func TestManager_HistoryMissingConversation(t *testing.T) {
	m, _ := newTestManager(t, 0)

	history, err := m.History(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestManager_Workflow(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	require.NoError(t, m.SetWorkflow(ctx, "conv-1", "vm-provisioning", map[string]string{"step": "validate"}))
	require.NoError(t, m.SetWorkflow(ctx, "conv-1", "vm-provisioning", map[string]string{"step": "apply", "region": "westus"}))

	cc, err := m.Context(ctx, "conv-1", "")
	require.NoError(t, err)
	assert.Equal(t, "vm-provisioning", cc.ActiveWorkflow)
	assert.Equal(t, "apply", cc.WorkflowState["step"])
	assert.Equal(t, "westus", cc.WorkflowState["region"])
}

func TestManager_IncrementCounter(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := m.IncrementCounter(ctx, "conv-1", "tool_calls")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestManager_Clear(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	_, err := m.AppendMessage(ctx, "conv-1", "", HistoryMessage{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "conv-1:azure:plan", []byte("{}"), 0))

	require.NoError(t, m.Clear(ctx, "conv-1"))

	history, err := m.History(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = store.Get(ctx, "conv-1:azure:plan")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestAgentState_NamespacedAccess(t *testing.T) {
	store := state.NewMemoryStore(nil)
	t.Cleanup(func() { _ = store.Close() })
	as := NewAgentState(store, time.Hour, nil)
	ctx := context.Background()

	type plan struct {
		Resource string `json:"resource"`
	}

	require.NoError(t, as.Set(ctx, "conv-1", "azure", "plan", plan{Resource: "vm-01"}))
	require.NoError(t, as.Set(ctx, "conv-1", "github", "plan", plan{Resource: "repo"}))

	var got plan
	require.NoError(t, as.Get(ctx, "conv-1", "azure", "plan", &got))
	assert.Equal(t, "vm-01", got.Resource)

	keys, err := as.Keys(ctx, "conv-1", "azure")
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1:azure:plan"}, keys)

	removed, err := as.Clear(ctx, "conv-1", "azure")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Other agents' entries are untouched
	require.NoError(t, as.Get(ctx, "conv-1", "github", "plan", &got))
	assert.Equal(t, "repo", got.Resource)
}
