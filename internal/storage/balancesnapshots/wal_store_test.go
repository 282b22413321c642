package balancesnapshots

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

func snapshot(user string, usd int64) domain.BalanceSnapshot {
	accounts := []domain.Account{
		{Currency: "USD", Balance: decimal.NewFromInt(usd)},
		{Currency: "EUR", Balance: decimal.NewFromInt(50)},
	}
	return domain.NewBalanceSnapshot(time.Now().UTC(), user, accounts, domain.SelectDefaults(accounts, "USD", "EUR"))
}

func TestWALStore_SaveAndRead(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, uint64(0), store.CurrentIndex())

	require.NoError(t, store.Save(snapshot("c1", 100)))
	require.NoError(t, store.Save(snapshot("c2", 7)))
	require.NoError(t, store.Save(snapshot("c1", 90)))
	assert.Equal(t, uint64(3), store.CurrentIndex())

	all, err := store.SnapshotsAfter(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].Index)
	assert.Equal(t, "USD", all[0].Snapshot.From)
	assert.Equal(t, "EUR", all[0].Snapshot.To)

	tail, err := store.SnapshotsAfter(2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.True(t, decimal.NewFromInt(90).Equal(tail[0].Snapshot.Accounts[0].Balance))

	none, err := store.SnapshotsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWALStore_Validation(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Save(domain.BalanceSnapshot{}))

	var nilStore *WALStore
	assert.Error(t, nilStore.Save(snapshot("c1", 1)))
	assert.Equal(t, uint64(0), nilStore.CurrentIndex())
}
