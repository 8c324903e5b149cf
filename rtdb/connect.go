package rtdb

import (
	"github.com/oklog/ulid/v2"
)


// connectivity state shared by the feed, providers and the event log
// NotReady -> Ready -> NotReady ...
// each connect cycle starts again at NotReady
type State string

const (
	StateNotReady State = "NotReady"
	StateReady    State = "Ready"
)

func (self State) IsReady() bool {
	return self == StateReady
}


type StateFunction = func(state State)


// identifies one database client for the life of the process
// string forms sort by creation time
type Id ulid.ULID

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
