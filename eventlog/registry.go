package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


var ErrUnknownEventType = errors.New("unknown event type")


// the body of an event. The type name selects the decoder on the receiving side.
type Payload interface {
	EventType() string
}


// event type name -> constructor of an empty payload
// built once at startup and shared
type Registry struct {
	stateLock sync.RWMutex
	constructors map[string]func() Payload
}

func NewRegistry() *Registry {
	return &Registry{
		constructors: map[string]func() Payload{},
	}
}

// the event types of the group notifications
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(func() Payload { return &PetDrop{} })
	registry.Register(func() Payload { return &SkillLevelUpAchievement{} })
	registry.Register(func() Payload { return &CombatLevelUpAchievement{} })
	registry.Register(func() Payload { return &TotalLevelAchievement{} })
	registry.Register(func() Payload { return &QuestCompletionAchievement{} })
	registry.Register(func() Payload { return &DiaryCompletionAchievement{} })
	return registry
}

// registers under the type name of the constructed payload
func (self *Registry) Register(constructor func() Payload) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.constructors[constructor().EventType()] = constructor
}

func (self *Registry) Has(eventType string) bool {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	_, ok := self.constructors[eventType]
	return ok
}

// sorted
func (self *Registry) Types() []string {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	eventTypes := maps.Keys(self.constructors)
	slices.Sort(eventTypes)
	return eventTypes
}

func (self *Registry) Decode(eventType string, data json.RawMessage) (Payload, error) {
	self.stateLock.RLock()
	constructor, ok := self.constructors[eventType]
	self.stateLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", rtdb.ErrDecode, ErrUnknownEventType, eventType)
	}
	payload := constructor()
	if !rtdb.IsNull(data) {
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %s", rtdb.ErrDecode, eventType, err)
		}
	}
	return payload, nil
}
