package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/questpoints/api"
	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/store/sqlite"
)

// seed loads the fitness scenario into a file database and redeems the
// 120 point reward, locking Morning run and Stretching.
func seed(t *testing.T) (dbPath string, locked economy.TaskID) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "quest.db")
	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	h := api.NewHandler(store, economy.FundingStrict)
	require.NoError(t, h.LoadScenarioByID(ctx, "fitness"))

	rewards, err := store.ListRewards(ctx, sqlite.RewardFilter{})
	require.NoError(t, err)
	var shoes economy.Reward
	for _, r := range rewards {
		if r.Name == "New running shoes" {
			shoes = r
		}
	}
	res, err := h.Engine.Redeem(ctx, shoes.ID)
	require.NoError(t, err)
	require.NotEmpty(t, res.LockedTasks)
	return dbPath, res.LockedTasks[0].ID
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", ""))
	err := cmd.Execute()
	return out.String(), err
}

func TestBalanceCommand(t *testing.T) {
	dbPath, _ := seed(t)

	out, err := run(t, "balance", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "spent:     150")
	assert.Contains(t, out, "balance:   200")
}

func TestUnlockCommand(t *testing.T) {
	dbPath, taskID := seed(t)

	out, err := run(t, "unlock", string(taskID), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "unlocked "+string(taskID))

	out, err = run(t, "balance", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "balance:   300")
}

func TestUnlockCommand_UnknownTask(t *testing.T) {
	dbPath, _ := seed(t)

	_, err := run(t, "unlock", "missing", "--db", dbPath)
	assert.ErrorIs(t, err, economy.ErrNotFound)
}

func TestRootCommand_InvalidPort(t *testing.T) {
	_, err := run(t, "balance", "--port", "0", "--db", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorIs(t, err, economy.ErrInvalidArgument)
}
