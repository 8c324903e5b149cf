package dataprovider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


// a component whose readiness gates another
// the database, every provider and the event log are upstreams
type Upstream interface {
	State() rtdb.State
	AddStateCallback(stateCallback rtdb.StateFunction) func()
}


// the steps to enter and leave Ready
type ReadinessHooks interface {
	// one full read into the cache, without notifying listeners
	Seed(ctx context.Context) error
	// start applying feed events
	Attach()
	// stop applying feed events and discard the cache
	Detach()
}


func DefaultReadinessSettings() *ReadinessSettings {
	return &ReadinessSettings{
		RetryTimeout: 5 * time.Second,
	}
}


type ReadinessSettings struct {
	// a failed seed is retried after this time while the upstreams stay Ready
	RetryTimeout time.Duration
}


// NotReady -> Ready -> NotReady ...
// Ready requires the readiness to be started and every upstream to be Ready.
// transitions run serially on the readiness goroutine, never on the feed dispatch goroutine.
type Readiness struct {
	ctx context.Context
	cancel context.CancelFunc

	name string
	hooks ReadinessHooks
	settings *ReadinessSettings
	upstreams []Upstream

	stateLock sync.Mutex
	state rtdb.State

	stateCallbacks *rtdb.CallbackList[rtdb.StateFunction]

	// signals the run loop to reevaluate the upstreams
	update chan struct{}
	// set by any upstream NotReady, cleared by the run loop
	// a drop followed by a quick recovery still leaves Ready once
	upstreamDropped atomic.Bool

	startOnce sync.Once
	shutdownOnce sync.Once
	// closed when the run loop exits
	done chan struct{}
}

func NewReadinessWithDefaults(name string, hooks ReadinessHooks, upstreams ...Upstream) *Readiness {
	return NewReadiness(name, hooks, DefaultReadinessSettings(), upstreams...)
}

func NewReadiness(name string, hooks ReadinessHooks, settings *ReadinessSettings, upstreams ...Upstream) *Readiness {
	ctx, cancel := context.WithCancel(context.Background())
	return &Readiness{
		ctx: ctx,
		cancel: cancel,
		name: name,
		hooks: hooks,
		settings: settings,
		upstreams: upstreams,
		state: rtdb.StateNotReady,
		stateCallbacks: rtdb.NewCallbackList[rtdb.StateFunction](),
		update: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (self *Readiness) Name() string {
	return self.name
}

// starts following the upstreams. Subsequent calls have no effect.
func (self *Readiness) Start() {
	self.startOnce.Do(func() {
		removeCallbacks := []func(){}
		for _, upstream := range self.upstreams {
			removeCallbacks = append(removeCallbacks, upstream.AddStateCallback(func(state rtdb.State) {
				if !state.IsReady() {
					self.upstreamDropped.Store(true)
				}
				self.signal()
			}))
		}
		go rtdb.HandleError(func() {
			defer close(self.done)
			defer func() {
				for _, removeCallback := range removeCallbacks {
					removeCallback()
				}
			}()
			self.run()
		}, func() {
			self.cancel()
		})
		self.signal()
	})
}

// leaves Ready and stops following the upstreams
// blocks until the readiness goroutine exits, so it must not be called from a state callback
func (self *Readiness) Shutdown() {
	self.shutdownOnce.Do(func() {
		self.cancel()
		self.startOnce.Do(func() {
			// never started
			close(self.done)
		})
		<-self.done
		self.setState(rtdb.StateNotReady)
		self.stateCallbacks.Clear()
	})
}

func (self *Readiness) State() rtdb.State {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Readiness) AddStateCallback(stateCallback rtdb.StateFunction) func() {
	callbackId := self.stateCallbacks.Add(stateCallback)
	return func() {
		self.stateCallbacks.Remove(callbackId)
	}
}

// returns immediately when Ready
// otherwise waits for the next Ready with a one-shot state callback, which is always removed before returning.
// `timeout <= 0` waits without a deadline.
func (self *Readiness) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	if self.State().IsReady() {
		return nil
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	removeCallback := self.AddStateCallback(func(state rtdb.State) {
		if state.IsReady() {
			readyOnce.Do(func() {
				close(ready)
			})
		}
	})
	defer removeCallback()

	// the state may have changed before the callback was added
	if self.State().IsReady() {
		return nil
	}

	var timeoutC <-chan time.Time
	if 0 < timeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-ready:
		return nil
	case <-timeoutC:
		return fmt.Errorf("%w: %s not ready after %s", rtdb.ErrTimedOut, self.name, timeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-self.ctx.Done():
		return fmt.Errorf("%w: %s shut down", rtdb.ErrNotReady, self.name)
	}
}

func (self *Readiness) WaitUntilReadyAsync(timeout time.Duration) <-chan error {
	return rtdb.Async(func() error {
		return self.WaitUntilReady(self.ctx, timeout)
	})
}

func (self *Readiness) signal() {
	select {
	case self.update <- struct{}{}:
	default:
	}
}

func (self *Readiness) upstreamsReady() bool {
	for _, upstream := range self.upstreams {
		if !upstream.State().IsReady() {
			return false
		}
	}
	return true
}

func (self *Readiness) run() {
	defer func() {
		if self.State().IsReady() {
			self.hooks.Detach()
		}
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.update:
		}

		dropped := self.upstreamDropped.Swap(false)
		if self.State().IsReady() && (dropped || !self.upstreamsReady()) {
			self.leaveReady()
		}
		if !self.State().IsReady() && self.upstreamsReady() {
			self.enterReady()
		}
	}
}

func (self *Readiness) enterReady() {
	seedCtx, seedCancel := context.WithCancel(self.ctx)
	defer seedCancel()

	// an upstream dropping mid-seed cancels the seed
	removeCallbacks := []func(){}
	for _, upstream := range self.upstreams {
		removeCallbacks = append(removeCallbacks, upstream.AddStateCallback(func(state rtdb.State) {
			if !state.IsReady() {
				seedCancel()
			}
		}))
	}
	defer func() {
		for _, removeCallback := range removeCallbacks {
			removeCallback()
		}
	}()

	err := rtdb.TraceError(fmt.Sprintf("[provider]%s seed", self.name), func() error {
		return self.hooks.Seed(seedCtx)
	})

	if self.ctx.Err() != nil {
		return
	}
	if err != nil {
		if seedCtx.Err() == nil {
			glog.Infof("[provider]%s seed error = %s\n", self.name, err)
			time.AfterFunc(self.settings.RetryTimeout, self.signal)
		}
		// else an upstream dropped and already signaled
		return
	}
	if seedCtx.Err() != nil || !self.upstreamsReady() {
		// an upstream dropped after the read completed
		return
	}

	self.hooks.Attach()
	self.setState(rtdb.StateReady)
}

func (self *Readiness) leaveReady() {
	self.hooks.Detach()
	self.setState(rtdb.StateNotReady)
}

func (self *Readiness) setState(state rtdb.State) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.state != state {
			self.state = state
			changed = true
		}
	}()

	if changed {
		glog.V(1).Infof("[provider]%s state %s\n", self.name, state)
		for _, stateCallback := range self.stateCallbacks.Get() {
			rtdb.HandleError(func() {
				stateCallback(state)
			})
		}
	}
}
