package timer

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidTTL is returned by Start when the countdown length is not positive.
var ErrInvalidTTL = errors.New("timer: ttl must be positive")

// State is the countdown lifecycle: Idle → Running → {Stopped, Expired}.
type State int

const (
	Idle State = iota
	Running
	Stopped
	Expired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Countdown ticks once per second from a TTL down to zero, then fires exactly one expiry.
// Restarting stops the previous run first; callbacks from a superseded run are dropped.
// Callbacks are invoked without the countdown's lock held, so they may call back into it.
type Countdown struct {
	clock Clock

	mu        sync.Mutex
	state     State
	run       uint64
	ttl       int
	remaining int
	startedAt time.Time
	cancel    Cancel
	onTick    func(remaining int)
	onExpire  func()
}

// NewCountdown returns an idle countdown on clock. A nil clock means RealClock.
func NewCountdown(clock Clock) *Countdown {
	if clock == nil {
		clock = RealClock{}
	}
	return &Countdown{clock: clock}
}

// Start begins counting down from ttlSeconds, stopping any run in progress.
// onTick receives the remaining seconds after each tick (the last tick reports 0);
// onExpire runs once when the count reaches zero. Either may be nil.
func (c *Countdown) Start(ttlSeconds int, onTick func(remaining int), onExpire func()) error {
	if ttlSeconds <= 0 {
		return ErrInvalidTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.run++
	c.state = Running
	c.ttl = ttlSeconds
	c.remaining = ttlSeconds
	c.startedAt = c.clock.Now()
	c.onTick = onTick
	c.onExpire = onExpire
	c.scheduleLocked(c.run)
	return nil
}

// Stop halts a running countdown. It reports whether a run was actually stopped.
func (c *Countdown) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// State returns the current lifecycle state.
func (c *Countdown) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the seconds left in the current or last run.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) stopLocked() bool {
	if c.state != Running {
		return false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = Stopped
	c.run++
	return true
}

// scheduleLocked arms the next tick against the run's start time so ticks do not drift.
func (c *Countdown) scheduleLocked(run uint64) {
	elapsed := c.ttl - c.remaining + 1
	due := c.startedAt.Add(time.Duration(elapsed) * time.Second)
	d := due.Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}
	c.cancel = c.clock.AfterFunc(d, func() { c.tick(run) })
}

func (c *Countdown) tick(run uint64) {
	c.mu.Lock()
	if run != c.run || c.state != Running {
		c.mu.Unlock()
		return
	}
	c.remaining--
	remaining := c.remaining
	onTick, onExpire := c.onTick, c.onExpire
	expired := remaining <= 0
	if expired {
		c.state = Expired
		c.cancel = nil
	} else {
		c.scheduleLocked(run)
	}
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
}
