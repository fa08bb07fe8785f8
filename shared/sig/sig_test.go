package sig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDispatcher_Coalescing(t *testing.T) {
	d := &Dispatcher{}

	calls := 0
	require.NoError(t, d.SetHandler(int(unix.SIGUSR1), func(signo int) {
		assert.Equal(t, int(unix.SIGUSR1), signo)
		calls++
	}))

	// Three deliveries before a single dispatch coalesce into one call.
	for i := 1; i <= 3; i++ {
		n, err := d.Raise(int(unix.SIGUSR1))
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	n, err := d.Received(int(unix.SIGUSR1))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	d.DispatchAll()

	assert.Equal(t, 1, calls)

	n, err = d.Received(int(unix.SIGUSR1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Nothing pending: another pass runs nothing.
	d.DispatchAll()
	assert.Equal(t, 1, calls)
}

func TestDispatcher_DispatchOneRunsUnconditionally(t *testing.T) {
	d := &Dispatcher{}

	calls := 0
	require.NoError(t, d.SetHandler(int(unix.SIGUSR2), func(int) { calls++ }))

	// DispatchOne invokes the handler even with a zero counter.
	require.NoError(t, d.DispatchOne(int(unix.SIGUSR2)))
	assert.Equal(t, 1, calls)
}

func TestDispatcher_AscendingOrder(t *testing.T) {
	d := &Dispatcher{}

	var order []int
	record := func(signo int) { order = append(order, signo) }

	require.NoError(t, d.SetHandler(int(unix.SIGUSR2), record))
	require.NoError(t, d.SetHandler(int(unix.SIGUSR1), record))
	require.NoError(t, d.SetHandler(int(unix.SIGHUP), record))

	// Raise in a scrambled order; dispatch must run ascending.
	_, err := d.Raise(int(unix.SIGUSR2))
	require.NoError(t, err)
	_, err = d.Raise(int(unix.SIGHUP))
	require.NoError(t, err)
	_, err = d.Raise(int(unix.SIGUSR1))
	require.NoError(t, err)

	d.DispatchAll()

	assert.Equal(t, []int{int(unix.SIGHUP), int(unix.SIGUSR1), int(unix.SIGUSR2)}, order)
}

func TestDispatcher_BadArguments(t *testing.T) {
	d := &Dispatcher{}

	tests := []struct {
		name string
		call func() error
	}{
		{"set handler signo 0", func() error { return d.SetHandler(0, func(int) {}) }},
		{"set handler signo too big", func() error { return d.SetHandler(NumSig, func(int) {}) }},
		{"set handler nil handler", func() error { return d.SetHandler(int(unix.SIGUSR1), nil) }},
		{"set handler bad block", func() error { return d.SetHandler(int(unix.SIGUSR1), func(int) {}, -1) }},
		{"received negative", func() error { _, err := d.Received(-1); return err }},
		{"received too big", func() error { _, err := d.Received(NumSig); return err }},
		{"raise signo 0", func() error { _, err := d.Raise(0); return err }},
		{"dispatch unregistered", func() error { return d.DispatchOne(int(unix.SIGUSR2)) }},
		{"block set unregistered", func() error { return d.AddToBlockSet(int(unix.SIGUSR2), int(unix.SIGHUP)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), unix.EINVAL)
		})
	}
}

func TestDispatcher_BlockSetDefersDispatch(t *testing.T) {
	d := &Dispatcher{}

	var order []string
	inUsr1 := false

	require.NoError(t, d.SetHandler(int(unix.SIGUSR2), func(int) {
		assert.False(t, inUsr1, "Blocked signal dispatched while the blocking handler was running")
		order = append(order, "usr2")
	}))

	// SIGUSR1's handler blocks SIGUSR2 and tries to dispatch it from
	// inside: the nested pass must defer it until this handler returns.
	require.NoError(t, d.SetHandler(int(unix.SIGUSR1), func(int) {
		inUsr1 = true
		order = append(order, "usr1")

		d.DispatchAll()
		require.NoError(t, d.DispatchOne(int(unix.SIGUSR2)))

		// Still pending: the deferrals left the counter alone.
		n, err := d.Received(int(unix.SIGUSR2))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		inUsr1 = false
	}, int(unix.SIGUSR2)))

	_, err := d.Raise(int(unix.SIGUSR1))
	require.NoError(t, err)
	_, err = d.Raise(int(unix.SIGUSR2))
	require.NoError(t, err)

	// The outer pass runs SIGUSR1 first (ascending order), then reaches
	// SIGUSR2 after its handler returned and the block set was restored.
	d.DispatchAll()

	assert.Equal(t, []string{"usr1", "usr2"}, order)

	n, err := d.Received(int(unix.SIGUSR2))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatcher_BlockSetAlwaysContainsSelf(t *testing.T) {
	d := &Dispatcher{}

	calls := 0
	require.NoError(t, d.SetHandler(int(unix.SIGUSR1), func(int) {
		calls++

		// A delivery during the handler must not re-enter it: the
		// handled signal is always in its own block set.
		_, err := d.Raise(int(unix.SIGUSR1))
		require.NoError(t, err)
		d.DispatchAll()
		require.NoError(t, d.DispatchOne(int(unix.SIGUSR1)))
	}))

	_, err := d.Raise(int(unix.SIGUSR1))
	require.NoError(t, err)

	d.DispatchAll()
	assert.Equal(t, 1, calls)

	// The delivery that arrived mid-handler is still pending and runs on
	// the next pass.
	n, err := d.Received(int(unix.SIGUSR1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d.DispatchAll()
	assert.Equal(t, 2, calls)
}

func TestDispatcher_AddToBlockSet(t *testing.T) {
	d := &Dispatcher{}

	ran := []string{}
	require.NoError(t, d.SetHandler(int(unix.SIGUSR2), func(int) {
		ran = append(ran, "usr2")
	}))

	require.NoError(t, d.SetHandler(int(unix.SIGUSR1), func(int) {
		ran = append(ran, "usr1")
		// SIGUSR2 was added to the block set after registration, so the
		// nested dispatch defers it.
		require.NoError(t, d.DispatchOne(int(unix.SIGUSR2)))
	}))

	require.NoError(t, d.AddToBlockSet(int(unix.SIGUSR1), int(unix.SIGUSR2)))

	_, err := d.Raise(int(unix.SIGUSR1))
	require.NoError(t, err)

	d.DispatchAll()

	assert.Equal(t, []string{"usr1"}, ran)
}

func TestDispatcher_RealDelivery(t *testing.T) {
	d := &Dispatcher{}

	got := make(chan int, 1)
	require.NoError(t, d.SetHandler(int(unix.SIGUSR1), func(signo int) { got <- signo }))

	defer func() { _ = d.Reset(int(unix.SIGUSR1)) }()

	proc, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, proc.Signal(unix.SIGUSR1))

	// The catcher only counts; the handler must not have run yet.
	select {
	case <-d.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("Signal was not recorded")
	}

	select {
	case <-got:
		t.Fatal("Handler ran before dispatch")
	default:
	}

	d.DispatchAll()

	select {
	case signo := <-got:
		assert.Equal(t, int(unix.SIGUSR1), signo)
	case <-time.After(time.Second):
		t.Fatal("Handler did not run on dispatch")
	}
}
