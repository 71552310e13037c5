package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSubscribeIsPrimedWithCurrentValue(t *testing.T) {
	t.Parallel()

	store := NewStore(3)
	ch, cancel := store.Subscribe()
	defer cancel()

	require.Equal(t, 3, <-ch)
}

func TestStoreCoalescesToLatestValue(t *testing.T) {
	t.Parallel()

	store := NewStore(0)
	ch, cancel := store.Subscribe()
	defer cancel()

	store.Set(1)
	store.Set(2)
	store.Set(3)

	assert.Equal(t, 3, <-ch)
	assert.Equal(t, 3, store.Get())
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestStoreCancelClosesChannel(t *testing.T) {
	t.Parallel()

	store := NewStore("a")
	ch, cancel := store.Subscribe()
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	store.Set("b")
	assert.Equal(t, "b", store.Get())
}

func TestStoreCloseDetachesSubscribers(t *testing.T) {
	t.Parallel()

	store := NewStore(1)
	first, cancelFirst := store.Subscribe()
	<-first
	store.Close()
	cancelFirst()

	_, ok := <-first
	require.False(t, ok)

	late, cancelLate := store.Subscribe()
	defer cancelLate()
	_, ok = <-late
	require.False(t, ok)
}
