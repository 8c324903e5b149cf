package rtdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
)


// one long-lived event stream per database
// `put` frames are parsed into change events and dispatched to path-scoped subscribers
// synchronously, in wire order, on the run loop goroutine


func DefaultChangeFeedSettings() *ChangeFeedSettings {
	return &ChangeFeedSettings{
		ReconnectTimeout: 5 * time.Second,
		// the store sends a keep-alive every 30s
		ReadTimeout: 75 * time.Second,
		MaxEventByteCount: 32 * 1024 * 1024,
	}
}


type ChangeFeedSettings struct {
	ReconnectTimeout time.Duration
	// no frame within this time drops the connection
	ReadTimeout time.Duration
	// the initial root put carries the whole tree
	MaxEventByteCount int
}


type ChangeEventFunction = func(event ChangeEvent)


type changeSubscriber struct {
	pathPrefix string
	handler ChangeEventFunction
}

// events at or below the prefix are delivered as is
// events that replace an ancestor of the prefix are projected down to the prefix
func (self *changeSubscriber) project(event ChangeEvent) (ChangeEvent, bool) {
	if PathHasPrefix(event.Path, self.pathPrefix) {
		return event, true
	}
	if segments, ok := RelativeSegments(event.Path, self.pathPrefix); ok {
		return ChangeEvent{
			Kind: event.Kind,
			Path: self.pathPrefix,
			Data: ProjectData(event.Data, segments),
		}, true
	}
	return ChangeEvent{}, false
}


type ChangeFeed struct {
	ctx context.Context
	cancel context.CancelFunc

	api *Api

	settings *ChangeFeedSettings

	connectOnce sync.Once

	stateLock sync.Mutex
	state State

	subscribers *CallbackList[*changeSubscriber]
	stateCallbacks *CallbackList[StateFunction]
}

func NewChangeFeedWithDefaults(ctx context.Context, api *Api) *ChangeFeed {
	return NewChangeFeed(ctx, api, DefaultChangeFeedSettings())
}

func NewChangeFeed(ctx context.Context, api *Api, settings *ChangeFeedSettings) *ChangeFeed {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ChangeFeed{
		ctx: cancelCtx,
		cancel: cancel,
		api: api,
		settings: settings,
		state: StateNotReady,
		subscribers: NewCallbackList[*changeSubscriber](),
		stateCallbacks: NewCallbackList[StateFunction](),
	}
}

// starts the connection loop. Subsequent calls have no effect.
func (self *ChangeFeed) Connect() {
	self.connectOnce.Do(func() {
		go HandleError(self.run, func() {
			self.cancel()
		})
	})
}

// `handler` receives every event whose path is at or below `pathPrefix`
func (self *ChangeFeed) Subscribe(pathPrefix string, handler ChangeEventFunction) func() {
	subscriber := &changeSubscriber{
		pathPrefix: JoinPath(pathPrefix),
		handler: handler,
	}
	callbackId := self.subscribers.Add(subscriber)
	return func() {
		self.subscribers.Remove(callbackId)
	}
}

func (self *ChangeFeed) State() State {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *ChangeFeed) AddStateCallback(stateCallback StateFunction) func() {
	callbackId := self.stateCallbacks.Add(stateCallback)
	return func() {
		self.stateCallbacks.Remove(callbackId)
	}
}

func (self *ChangeFeed) Close() {
	self.cancel()
	self.setState(StateNotReady)
	self.subscribers.Clear()
	self.stateCallbacks.Clear()
}

func (self *ChangeFeed) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *ChangeFeed) setState(state State) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.ctx.Err() != nil {
			// closed
			state = StateNotReady
		}
		if self.state != state {
			self.state = state
			changed = true
		}
	}()

	if changed {
		glog.V(1).Infof("[feed]state %s\n", state)
		for _, stateCallback := range self.stateCallbacks.Get() {
			HandleError(func() {
				stateCallback(state)
			})
		}
	}
}

func (self *ChangeFeed) run() {
	defer self.setState(StateNotReady)

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		err := TraceError(fmt.Sprintf("[feed]connect %s", self.api.DatabaseUrl()), self.connectAndRead)
		self.setState(StateNotReady)
		if err != nil && self.ctx.Err() == nil {
			glog.Infof("[feed]connection error = %s\n", err)
		}

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *ChangeFeed) connectAndRead() error {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	r, err := self.api.Stream(handleCtx, RootPath)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	self.setState(StateReady)

	// any frame, including keep-alive, resets the idle timer
	idle := time.AfterFunc(self.settings.ReadTimeout, handleCancel)
	defer idle.Stop()

	reader := newEventStreamReader(r.Body, self.settings.MaxEventByteCount)
	for {
		streamEvent, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: stream closed", ErrRemoteUnavailable)
			}
			if handleCtx.Err() != nil && self.ctx.Err() == nil {
				return fmt.Errorf("%w: no frame within %s", ErrRemoteUnavailable, self.settings.ReadTimeout)
			}
			return fmt.Errorf("%w: %s", ErrRemoteUnavailable, err)
		}
		idle.Reset(self.settings.ReadTimeout)

		switch streamEvent.Type {
		case "put":
			changeEvent, err := ParseChangeEvent(ChangeKindPut, streamEvent.Data)
			if err != nil {
				glog.Infof("[feed]drop put = %s\n", err)
				continue
			}
			glog.V(2).Infof("[feed]<- %s\n", changeEvent)
			self.dispatch(changeEvent)
		case "keep-alive":
			glog.V(2).Infof("[feed]keep-alive\n")
		case "patch":
			// this client never issues PATCH writes
			glog.V(1).Infof("[feed]ignore patch\n")
		case "cancel":
			return fmt.Errorf("%w: stream canceled by the store: %s", ErrRemoteUnavailable, streamEvent.Data)
		case "auth_revoked":
			return fmt.Errorf("%w: auth revoked: %s", ErrRemoteUnavailable, streamEvent.Data)
		default:
			glog.V(2).Infof("[feed]other=%s\n", streamEvent.Type)
		}
	}
}

func (self *ChangeFeed) dispatch(changeEvent ChangeEvent) {
	for _, subscriber := range self.subscribers.Get() {
		subscriberEvent, ok := subscriber.project(changeEvent)
		if !ok {
			continue
		}
		HandleError(func() {
			subscriber.handler(subscriberEvent)
		})
	}
}
