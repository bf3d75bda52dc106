package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIsIdempotent(t *testing.T) {

	require := require.New(t)

	tbl := NewTable()
	a := tbl.Add(Descriptor{Name: "SOC", Kind: KindInt})
	b := tbl.Add(Descriptor{Name: "VOLTAGE", Kind: KindFloat})
	again := tbl.Add(Descriptor{Name: "SOC", Kind: KindInt})

	require.Equal(a, again)
	require.NotEqual(a, b)
	require.Equal(2, tbl.Len())
	require.Equal([]string{"SOC", "VOLTAGE"}, tbl.Names())
}

func TestSetNextAndCommit(t *testing.T) {

	require := require.New(t)

	var changes []Value
	tbl := NewTable()
	id := tbl.Add(Descriptor{Name: "SOC", Kind: KindInt, OnChange: func(old, new Value) {
		changes = append(changes, new)
	}})

	require.False(tbl.Get(id).Defined())

	tbl.SetNext(id, IntValue(42))
	require.False(tbl.Get(id).Defined(), "next must not be visible before commit")
	tbl.Commit(id)
	require.Equal(int64(42), tbl.Get(id).IntOr(0))

	// same value does not notify
	tbl.Set(id, IntValue(42))
	tbl.Set(id, IntValue(43))
	require.Len(changes, 2)
}

func TestProposeWrite(t *testing.T) {

	require := require.New(t)

	tbl := NewTable()
	ro := tbl.Add(Descriptor{Name: "SOC", Kind: KindInt})
	rw := tbl.Add(Descriptor{Name: "WATCHDOG", Kind: KindInt, Access: ReadWrite})

	require.ErrorIs(tbl.ProposeWrite(ro, IntValue(1)), ErrReadOnly)
	require.ErrorIs(tbl.ProposeWrite(rw, FloatValue(1)), ErrKindMismatch)
	require.ErrorIs(tbl.SetNextWrite("NOPE", IntValue(1)), ErrUnknownChannel)

	require.NoError(tbl.SetNextWrite("WATCHDOG", IntValue(60)))
	v, ok := tbl.PendingWrite(rw)
	require.True(ok)
	require.Equal(int64(60), v.IntOr(0))

	// a failed write keeps the pending value
	_, ok = tbl.PendingWrite(rw)
	require.True(ok)

	tbl.ConfirmWrite(rw, v)
	_, ok = tbl.PendingWrite(rw)
	require.False(ok)
	require.Equal(int64(60), tbl.Get(rw).IntOr(0))

	// proposing the confirmed value again is not pending
	require.NoError(tbl.ProposeWrite(rw, IntValue(60)))
	_, ok = tbl.PendingWrite(rw)
	require.False(ok)
}

func TestConcurrentReadsSeeWholeSnapshots(t *testing.T) {

	tbl := NewTable()
	id := tbl.Add(Descriptor{Name: "CURRENT", Kind: KindLong})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := tbl.Snapshot(id)
			if snap.Current.Defined() {
				// next is never behind current
				assert.LessOrEqual(t, snap.Current.IntOr(-1), snap.Next.IntOr(-1))
			}
			_ = tbl.Names()
		}
	}()

	for i := int64(0); i < 5000; i++ {
		tbl.Set(id, LongValue(i))
		if i%500 == 0 {
			tbl.Add(Descriptor{Name: "DYN_" + LongValue(i).String(), Kind: KindInt})
		}
	}
	close(stop)
	wg.Wait()
}

func TestFromAny(t *testing.T) {

	require := require.New(t)

	v, err := FromAny(KindInt, 12.4)
	require.NoError(err)
	require.Equal(int64(12), v.IntOr(0))

	v, err = FromAny(KindBool, "true")
	require.NoError(err)
	require.True(v.BoolOr(false))

	_, err = FromAny(KindString, 3.0)
	require.ErrorIs(err, ErrKindMismatch)

	_, err = FromAny(KindInt, 1e12)
	require.ErrorIs(err, ErrOutOfRange)

	require.True(IntValue(3).Equal(FloatValue(3)))
	require.False(Undefined(KindInt).Equal(IntValue(0)))
}
