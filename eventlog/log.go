package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"github.com/elertan/bronzeman-unleashed/dataprovider"
	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/rtdb"
	"github.com/elertan/bronzeman-unleashed/storage"
)


const LastEventPath = "/LastEvent"


type EventCallback = func(entryKey string, envelope *Envelope)


func DefaultEventLogSettings() *EventLogSettings {
	return &EventLogSettings{
		GracePeriod: 10 * time.Second,
		StaleThreshold: 30 * time.Second,
		StaleMargin: 5 * time.Second,
		SweepParallelism: 8,
		ReadinessSettings: dataprovider.DefaultReadinessSettings(),
	}
}


type EventLogSettings struct {
	// a published event deletes itself after this time
	GracePeriod time.Duration
	// older events are removed by a sweep
	StaleThreshold time.Duration
	// the stale threshold must exceed the grace period by at least this
	StaleMargin time.Duration
	SweepParallelism int
	ReadinessSettings *dataprovider.ReadinessSettings
}

func (self *EventLogSettings) Validate() error {
	if self.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive (%s)", self.GracePeriod)
	}
	if self.StaleThreshold < self.GracePeriod+self.StaleMargin {
		return fmt.Errorf(
			"stale threshold %s must be at least the grace period %s plus %s",
			self.StaleThreshold,
			self.GracePeriod,
			self.StaleMargin,
		)
	}
	if self.SweepParallelism <= 0 {
		return fmt.Errorf("sweep parallelism must be positive (%d)", self.SweepParallelism)
	}
	return nil
}


// a short lived broadcast channel
// every published event is delivered to the other clients and then deletes itself.
// Events that outlive their producer are swept once they are stale.
type EventLog struct {
	ctx context.Context
	cancel context.CancelFunc

	registry *Registry
	producerId model.AccountHash
	settings *EventLogSettings

	port *storage.ObjectListPort[*envelopeJson]
	// the same entries undecoded, so the sweep also sees entries that do not parse
	// never attached
	rawPort *storage.ObjectListPort[json.RawMessage]
	provider *dataprovider.Provider[map[string]*envelopeJson]

	// entry key -> scheduled self delete
	selfDeletes *ttlcache.Cache[string, struct{}]

	eventCallbacks *rtdb.CallbackList[EventCallback]

	sweepOnce sync.Once
	closeOnce sync.Once
}

func NewEventLogWithDefaults(remote storage.Remote, producerId model.AccountHash, upstreams ...dataprovider.Upstream) (*EventLog, error) {
	return NewEventLog(remote, DefaultRegistry(), producerId, DefaultEventLogSettings(), upstreams...)
}

func NewEventLog(
	remote storage.Remote,
	registry *Registry,
	producerId model.AccountHash,
	settings *EventLogSettings,
	upstreams ...dataprovider.Upstream,
) (*EventLog, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	port, err := storage.NewObjectListPort[*envelopeJson](remote, LastEventPath)
	if err != nil {
		return nil, err
	}
	rawPort, err := storage.NewObjectListPort[json.RawMessage](remote, LastEventPath)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(context.Background())

	selfDeletes := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](settings.GracePeriod),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	eventLog := &EventLog{
		ctx: cancelCtx,
		cancel: cancel,
		registry: registry,
		producerId: producerId,
		settings: settings,
		port: port,
		rawPort: rawPort,
		provider: dataprovider.NewProvider[map[string]*envelopeJson]("last event", port, settings.ReadinessSettings, upstreams...),
		selfDeletes: selfDeletes,
		eventCallbacks: rtdb.NewCallbackList[EventCallback](),
	}

	selfDeletes.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
		if reason == ttlcache.EvictionReasonExpired {
			eventLog.selfDelete(item.Key())
		}
	})
	go selfDeletes.Start()

	port.AddListener(&storage.ObjectListListener[*envelopeJson]{
		OnAdd: eventLog.onAdd,
	})
	eventLog.provider.AddStateCallback(eventLog.onState)

	return eventLog, nil
}

func (self *EventLog) ProducerId() model.AccountHash {
	return self.producerId
}

func (self *EventLog) Registry() *Registry {
	return self.registry
}

func (self *EventLog) Start() {
	self.provider.Start()
}

func (self *EventLog) State() rtdb.State {
	return self.provider.State()
}

func (self *EventLog) AddStateCallback(stateCallback rtdb.StateFunction) func() {
	return self.provider.AddStateCallback(stateCallback)
}

func (self *EventLog) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return self.provider.WaitUntilReady(ctx, timeout)
}

// called for every event added while Ready, including our own
// events present when the log becomes Ready are not delivered
func (self *EventLog) AddEventCallback(eventCallback EventCallback) func() {
	callbackId := self.eventCallbacks.Add(eventCallback)
	return func() {
		self.eventCallbacks.Remove(callbackId)
	}
}

// writes a new event and schedules its delete after the grace period
// returns the entry key
func (self *EventLog) Publish(ctx context.Context, payload Payload) (string, error) {
	select {
	case <-self.ctx.Done():
		return "", rtdb.ErrClosed
	default:
	}
	if !self.provider.State().IsReady() {
		return "", fmt.Errorf("%w: last event", rtdb.ErrNotReady)
	}
	eventType := payload.EventType()
	if !self.registry.Has(eventType) {
		return "", fmt.Errorf("%w %q", ErrUnknownEventType, eventType)
	}

	storedEnvelope, err := encodeEnvelope(&Envelope{
		Type: eventType,
		ProducerId: self.producerId,
		Timestamp: model.Now(),
		Payload: payload,
	})
	if err != nil {
		return "", err
	}
	entryKey, err := self.port.Add(ctx, storedEnvelope)
	if err != nil {
		return "", err
	}
	glog.V(1).Infof("[eventlog]published %s %s\n", eventType, entryKey)

	select {
	case <-self.ctx.Done():
		// closed while the add was in flight. The event is left for a sweep.
	default:
		self.selfDeletes.Set(entryKey, struct{}{}, ttlcache.DefaultTTL)
	}
	return entryKey, nil
}

func (self *EventLog) PendingSelfDeleteCount() int {
	return self.selfDeletes.Len()
}

// removes every event that does not parse, has no timestamp, or is older than the stale threshold
// individual remove failures are logged and skipped
// returns the number of events removed
func (self *EventLog) Sweep(ctx context.Context) (int, error) {
	storedEnvelopes, err := self.rawPort.ReadAll(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var removedCount atomic.Int64
	group := errgroup.Group{}
	group.SetLimit(self.settings.SweepParallelism)
	for entryKey, storedEnvelope := range storedEnvelopes {
		if !isStoredStale(storedEnvelope, now, self.settings.StaleThreshold) {
			continue
		}
		group.Go(func() error {
			if err := self.rawPort.Remove(ctx, entryKey); err != nil {
				glog.Infof("[eventlog]sweep remove %s error = %s\n", entryKey, err)
				return nil
			}
			removedCount.Add(1)
			return nil
		})
	}
	group.Wait()

	glog.V(1).Infof("[eventlog]swept %d/%d\n", removedCount.Load(), len(storedEnvelopes))
	return int(removedCount.Load()), nil
}

// pending self deletes are abandoned. Deletes already dispatched still complete.
func (self *EventLog) Close() {
	self.closeOnce.Do(func() {
		self.cancel()
		self.selfDeletes.Stop()
		self.selfDeletes.DeleteAll()
		self.provider.Close()
		self.eventCallbacks.Clear()
	})
}

func (self *EventLog) onAdd(entryKey string, storedEnvelope *envelopeJson) {
	envelope, err := decodeEnvelope(self.registry, storedEnvelope)
	if err != nil {
		glog.Infof("[eventlog]skip %s error = %s\n", entryKey, err)
		return
	}
	for _, eventCallback := range self.eventCallbacks.Get() {
		rtdb.HandleError(func() {
			eventCallback(entryKey, envelope)
		})
	}
}

// the first Ready sweeps events left behind by clients that went away
func (self *EventLog) onState(state rtdb.State) {
	if !state.IsReady() {
		return
	}
	self.sweepOnce.Do(func() {
		go rtdb.HandleError(func() {
			removedCount, err := self.Sweep(self.ctx)
			if err != nil {
				glog.Infof("[eventlog]initial sweep error = %s\n", err)
				return
			}
			if 0 < removedCount {
				glog.Infof("[eventlog]initial sweep removed %d stale events\n", removedCount)
			}
		})
	})
}

// runs on its own goroutine
func (self *EventLog) selfDelete(entryKey string) {
	// not bound to the log lifetime, so a delete that already fired completes after close
	ctx, cancel := context.WithTimeout(context.Background(), self.settings.StaleThreshold)
	defer cancel()
	if err := self.port.Remove(ctx, entryKey); err != nil {
		glog.Infof("[eventlog]self delete %s error = %s\n", entryKey, err)
		return
	}
	glog.V(2).Infof("[eventlog]self delete %s\n", entryKey)
}
