package queuectl

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/queue"
)

func seedQueue(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	q := queue.New(nil, nil)
	require.NoError(t, q.Open(path))
	a, err := q.Enqueue(ctx, queue.UpdateOrderStatus{ID: "o1", Status: orders.StatusReady}, 0)
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, queue.DecrementStock{ItemID: "pizza", Qty: queue.Qty(2)}, 0)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, b, "permanent failure: test"))
	require.NoError(t, q.Close())
	return path, []string{a.ID, b.ID}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand("")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("")
	for _, name := range []string{"list", "remove", "clear", "dead-letters"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestList(t *testing.T) {
	path, ids := seedQueue(t)

	out, err := run(t, "list", "--queue", path)
	require.NoError(t, err)
	assert.Contains(t, out, ids[0])
	assert.Contains(t, out, "updateOrderStatus")
	assert.NotContains(t, out, ids[1])

	out, err = run(t, "list", "--queue", path, "--format", "json")
	require.NoError(t, err)
	var views []entryView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, ids[0], views[0].ID)
	assert.JSONEq(t, `{"id":"o1","status":"Ready"}`, string(views[0].Payload))
}

func TestDeadLetters(t *testing.T) {
	path, ids := seedQueue(t)

	out, err := run(t, "dead-letters", "--queue", path)
	require.NoError(t, err)
	assert.Contains(t, out, ids[1])
	assert.Contains(t, out, "permanent failure: test")

	_, err = run(t, "remove", ids[1], "--dead-letter", "--queue", path)
	require.NoError(t, err)
	out, err = run(t, "dead-letters", "--queue", path, "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestRemoveAndClear(t *testing.T) {
	path, ids := seedQueue(t)

	_, err := run(t, "remove", "nope", "--queue", path)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := run(t, "remove", ids[0], "--queue", path)
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+ids[0])

	_, err = run(t, "clear", "--queue", path)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = run(t, "clear", "--yes", "--queue", path)
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 0 operations")
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "list", "--format", "yaml", "--queue", filepath.Join(t.TempDir(), "q.db"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
