// Package sig implements deferred signal dispatch. The only thing that runs
// when a signal is delivered is a minimal catcher that increments a
// per-signal counter; the handler the caller registered runs later,
// synchronously, when the program asks for pending signals to be
// dispatched. Handlers are therefore free to do anything: they are ordinary
// functions running on the dispatching goroutine, not signal handlers.
//
// Deliveries that arrive between two dispatches coalesce into a single
// handler invocation. Callers that need the delivery count must read it
// with Received before dispatching.
package sig

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// NumSig is one more than the highest signal number this package tracks.
// Linux real-time signals end at 64.
const NumSig = 65

// Handler is a user signal handler. It receives the signal number it was
// dispatched for.
type Handler func(signo int)

type entry struct {
	handler Handler
	block   map[int]struct{}
}

// Dispatcher owns a signal registration table. The zero value is ready to
// use; most programs use the package-level functions which share a single
// process-wide dispatcher.
type Dispatcher struct {
	mu       sync.Mutex // guards the table and the deferral depths
	table    [NumSig]*entry
	received [NumSig]atomic.Int64

	// Per-signal dispatch deferral depth. While a handler runs, every
	// signal in its block set has a positive depth here and is withheld
	// from dispatch; deliveries keep counting in the meantime.
	blocked [NumSig]int

	notifyOnce sync.Once
	ch         chan os.Signal
	wake       chan struct{}
}

// catcherLoop is the dispatcher's catcher: it only counts deliveries and
// pokes the wake channel. Everything else happens at dispatch time.
func (d *Dispatcher) catcherLoop() {
	for s := range d.ch {
		signo, ok := s.(unix.Signal)
		if !ok || signo <= 0 || int(signo) >= NumSig {
			continue
		}

		d.received[signo].Add(1)

		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

func (d *Dispatcher) init() {
	d.notifyOnce.Do(func() {
		d.ch = make(chan os.Signal, NumSig)
		d.wake = make(chan struct{}, 1)
		go d.catcherLoop()
	})
}

// Wake returns a channel that receives a tick whenever a registered signal
// is delivered, so callers can select on pending dispatch work.
func (d *Dispatcher) Wake() <-chan struct{} {
	d.init()
	return d.wake
}

// SetHandler registers handler for signo. The catcher is installed with the
// runtime, the handler is remembered for dispatch, the block set is set to
// signo itself plus any extra signals given, and the delivery counter is
// reset.
func (d *Dispatcher) SetHandler(signo int, handler Handler, block ...int) error {
	if signo <= 0 || signo >= NumSig || handler == nil {
		return unix.EINVAL
	}

	d.init()

	d.mu.Lock()
	defer d.mu.Unlock()

	e := &entry{
		handler: handler,
		block:   map[int]struct{}{signo: {}},
	}

	for _, b := range block {
		if b <= 0 || b >= NumSig {
			return unix.EINVAL
		}

		e.block[b] = struct{}{}
	}

	d.table[signo] = e
	d.received[signo].Store(0)

	signal.Notify(d.ch, unix.Signal(signo))
	return nil
}

// AddToBlockSet adds blocked to the set of signals withheld from dispatch
// while handled's handler runs. handled must already be registered.
func (d *Dispatcher) AddToBlockSet(handled int, blocked int) error {
	if handled <= 0 || handled >= NumSig || blocked <= 0 || blocked >= NumSig {
		return unix.EINVAL
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.table[handled]
	if e == nil {
		return unix.EINVAL
	}

	e.block[blocked] = struct{}{}
	return nil
}

// Received returns the number of times signo has been delivered since the
// last dispatch.
func (d *Dispatcher) Received(signo int) (int, error) {
	if signo < 0 || signo >= NumSig {
		return 0, unix.EINVAL
	}

	return int(d.received[signo].Load()), nil
}

// Raise records a synthetic delivery of signo, exactly as if the kernel had
// delivered it, and returns the new delivery count.
func (d *Dispatcher) Raise(signo int) (int, error) {
	if signo <= 0 || signo >= NumSig {
		return 0, unix.EINVAL
	}

	n := d.received[signo].Add(1)

	d.init()
	select {
	case d.wake <- struct{}{}:
	default:
	}

	return int(n), nil
}

// DispatchOne zeroes signo's delivery counter and runs its handler once.
// While the handler runs, every signal in its block set (always including
// signo itself) is withheld from dispatch: a dispatch of a withheld signal
// is deferred, leaving its delivery counter alone for a later pass. The
// handler runs outside the dispatcher's lock, so it is free to dispatch
// other signals itself. A handler that terminates the process never
// restores the block set; that is intentional.
func (d *Dispatcher) DispatchOne(signo int) error {
	if signo <= 0 || signo >= NumSig {
		return unix.EINVAL
	}

	return d.dispatch(signo)
}

func (d *Dispatcher) dispatch(signo int) error {
	d.mu.Lock()

	e := d.table[signo]
	if e == nil {
		d.mu.Unlock()
		return unix.EINVAL
	}

	if d.blocked[signo] > 0 {
		// Withheld by a running handler's block set: defer. The counter
		// stays as it is so a later pass dispatches the signal.
		d.mu.Unlock()
		return nil
	}

	// Snapshot the block set so a concurrent AddToBlockSet cannot skew
	// the restore below.
	blocked := make([]int, 0, len(e.block))
	for b := range e.block {
		blocked = append(blocked, b)
		d.blocked[b]++
	}

	d.received[signo].Store(0)
	handler := e.handler
	d.mu.Unlock()

	handler(signo)

	d.mu.Lock()
	for _, b := range blocked {
		d.blocked[b]--
	}
	d.mu.Unlock()

	return nil
}

// DispatchAll runs the handler of every registered signal whose delivery
// counter is non-zero at the moment of inspection, in ascending signal
// number order. Each handler runs at most once per pass no matter how many
// deliveries coalesced; signals withheld by a running handler's block set
// are left pending for a later pass.
func (d *Dispatcher) DispatchAll() {
	for signo := 1; signo < NumSig; signo++ {
		d.mu.Lock()
		pending := d.table[signo] != nil && d.received[signo].Load() > 0
		d.mu.Unlock()

		if pending {
			_ = d.dispatch(signo)
		}
	}
}

// Reset forgets signo's registration and stops delivery to the dispatcher.
func (d *Dispatcher) Reset(signo int) error {
	if signo <= 0 || signo >= NumSig {
		return unix.EINVAL
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.table[signo] = nil
	d.received[signo].Store(0)
	signal.Reset(unix.Signal(signo))
	return nil
}

// Default is the process-wide dispatcher used by the package-level
// functions.
var Default = &Dispatcher{}

// SetHandler registers handler for signo on the process dispatcher.
func SetHandler(signo int, handler Handler, block ...int) error {
	return Default.SetHandler(signo, handler, block...)
}

// AddToBlockSet augments the block set of an already registered signal on
// the process dispatcher.
func AddToBlockSet(handled int, blocked int) error {
	return Default.AddToBlockSet(handled, blocked)
}

// Received returns the pending delivery count for signo on the process
// dispatcher.
func Received(signo int) (int, error) {
	return Default.Received(signo)
}

// Raise records a synthetic delivery on the process dispatcher.
func Raise(signo int) (int, error) {
	return Default.Raise(signo)
}

// DispatchOne dispatches signo on the process dispatcher.
func DispatchOne(signo int) error {
	return Default.DispatchOne(signo)
}

// DispatchAll dispatches every pending signal on the process dispatcher.
func DispatchAll() {
	Default.DispatchAll()
}

// Wake returns the process dispatcher's wake channel.
func Wake() <-chan struct{} {
	return Default.Wake()
}
