package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var missing testDoc
	exists, err := m.Get(ctx, "docs/a", &missing)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, m.Set(ctx, "docs/a", &testDoc{Name: "a", Count: 1}))

	var got testDoc
	exists, err = m.Get(ctx, "docs/a", &got)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, testDoc{Name: "a", Count: 1}, got)
}

func TestMemorySetMerge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "docs/a", &testDoc{Name: "a", Count: 1}))
	require.NoError(t, m.SetMerge(ctx, "docs/a", map[string]any{"count": 5}))

	var got testDoc
	_, err := m.Get(ctx, "docs/a", &got)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 5, got.Count)
}

func TestMemoryTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "docs/a", &testDoc{Name: "a", Count: 1}))

	boom := errors.New("boom")
	err := m.RunTransaction(ctx, func(tx Tx) error {
		if err := tx.Set("docs/a", &testDoc{Name: "a", Count: 99}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var got testDoc
	_, err = m.Get(ctx, "docs/a", &got)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count, "failed transaction must leave no partial writes")
}

func TestMemoryTransactionReadsItsOwnWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.RunTransaction(ctx, func(tx Tx) error {
		if err := tx.Set("docs/a", &testDoc{Count: 7}); err != nil {
			return err
		}
		var got testDoc
		exists, err := tx.Get("docs/a", &got)
		if err != nil {
			return err
		}
		assert.True(t, exists)
		assert.Equal(t, 7, got.Count)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryTransactionsSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "docs/counter", &testDoc{Count: 0}))

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RunTransaction(ctx, func(tx Tx) error {
				var d testDoc
				if _, err := tx.Get("docs/counter", &d); err != nil {
					return err
				}
				d.Count++
				return tx.Set("docs/counter", &d)
			})
		}()
	}
	wg.Wait()

	var got testDoc
	_, err := m.Get(ctx, "docs/counter", &got)
	require.NoError(t, err)
	assert.Equal(t, workers, got.Count)
}
