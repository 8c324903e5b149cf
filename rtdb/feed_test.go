package rtdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/elertan/bronzeman-unleashed/rtdbmock"
)


func TestChangeFeedProjectsRootPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, db := newTestDatabase(t, ctx, rtdbmock.DefaultServerSettings())
	mock.Set("/Members/1", json.RawMessage(`{"name":"a"}`))
	mock.Set("/GameRules", json.RawMessage(`{"onlyForTradeableItems":true}`))

	members := make(chan ChangeEvent, 16)
	db.Subscribe("/Members", func(event ChangeEvent) {
		members <- event
	})
	missing := make(chan ChangeEvent, 16)
	db.Subscribe("/Missing", func(event ChangeEvent) {
		missing <- event
	})

	db.Connect()

	event := nextChangeEvent(t, members)
	assert.Equal(t, event.Path, "/Members")
	assert.Equal(t, string(event.Data), `{"1":{"name":"a"}}`)

	// the root put reaches every subscriber, even for an absent subtree
	event = nextChangeEvent(t, missing)
	assert.Equal(t, event.Path, "/Missing")
	assert.Equal(t, event.IsDelete(), true)
}

func TestChangeFeedPrefixIsolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, db := newTestDatabase(t, ctx, rtdbmock.DefaultServerSettings())

	members := make(chan ChangeEvent, 16)
	db.Subscribe("/Members", func(event ChangeEvent) {
		members <- event
	})
	db.Connect()

	event := nextChangeEvent(t, members)
	assert.Equal(t, event.Path, "/Members")

	err := db.Put(ctx, "/MembersX/1", json.RawMessage(`true`))
	assert.Equal(t, err, nil)
	err = db.Put(ctx, "/Members/2", json.RawMessage(`{"name":"b"}`))
	assert.Equal(t, err, nil)

	event = nextChangeEvent(t, members)
	assert.Equal(t, event.Path, "/Members/2")
	assert.Equal(t, string(event.Data), `{"name":"b"}`)

	err = db.Delete(ctx, "/Members/2")
	assert.Equal(t, err, nil)

	event = nextChangeEvent(t, members)
	assert.Equal(t, event.Path, "/Members/2")
	assert.Equal(t, event.IsDelete(), true)

	select {
	case event := <-members:
		t.Fatalf("unexpected event %s", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChangeFeedHandlerPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, db := newTestDatabase(t, ctx, rtdbmock.DefaultServerSettings())

	db.Subscribe("/Members", func(event ChangeEvent) {
		panic("handler failure")
	})
	members := make(chan ChangeEvent, 16)
	db.Subscribe("/Members", func(event ChangeEvent) {
		members <- event
	})
	db.Connect()

	nextChangeEvent(t, members)

	err := db.Put(ctx, "/Members/1", json.RawMessage(`{"name":"a"}`))
	assert.Equal(t, err, nil)

	event := nextChangeEvent(t, members)
	assert.Equal(t, event.Path, "/Members/1")
	assert.Equal(t, db.State(), StateReady)
}

func TestChangeFeedReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, db := newTestDatabase(t, ctx, rtdbmock.DefaultServerSettings())

	states := make(chan State, 16)
	db.AddStateCallback(func(state State) {
		states <- state
	})
	members := make(chan ChangeEvent, 16)
	db.Subscribe("/Members", func(event ChangeEvent) {
		members <- event
	})

	db.Connect()
	waitForState(t, states, StateReady)
	nextChangeEvent(t, members)

	// changes while disconnected arrive through the next root put
	mock.SetUnavailable(true)
	mock.DropStreams()
	waitForState(t, states, StateNotReady)
	mock.Set("/Members/1", json.RawMessage(`{"name":"a"}`))
	mock.SetUnavailable(false)

	waitForState(t, states, StateReady)
	event := nextChangeEvent(t, members)
	assert.Equal(t, event.Path, "/Members")
	assert.Equal(t, string(event.Data), `{"1":{"name":"a"}}`)
}

func TestChangeFeedCancelFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, db := newTestDatabase(t, ctx, rtdbmock.DefaultServerSettings())

	states := make(chan State, 16)
	db.AddStateCallback(func(state State) {
		states <- state
	})
	db.Connect()
	waitForState(t, states, StateReady)

	for _, eventType := range []string{"cancel", "auth_revoked"} {
		mock.SendFrame(eventType, `"permission denied"`)
		waitForState(t, states, StateNotReady)
		waitForState(t, states, StateReady)
	}
}

func TestChangeFeedIgnoresOtherFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, db := newTestDatabase(t, ctx, rtdbmock.DefaultServerSettings())

	members := make(chan ChangeEvent, 16)
	db.Subscribe("/Members", func(event ChangeEvent) {
		members <- event
	})
	db.Connect()
	nextChangeEvent(t, members)

	mock.SendFrame("keep-alive", "null")
	mock.SendFrame("patch", `{"path":"/Members","data":{"1":{"name":"a"}}}`)
	mock.SendFrame("put", `not json`)
	mock.SendFrame("put", `{"path":"/Members/3","data":{"name":"c"}}`)

	event := nextChangeEvent(t, members)
	assert.Equal(t, event.Path, "/Members/3")
	assert.Equal(t, db.State(), StateReady)
}

func TestChangeFeedReadTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockSettings := rtdbmock.DefaultServerSettings()
	mockSettings.KeepAliveTimeout = time.Hour
	mock, db := newTestDatabase(t, ctx, mockSettings)
	db.Feed().settings.ReadTimeout = 100 * time.Millisecond

	states := make(chan State, 16)
	db.AddStateCallback(func(state State) {
		states <- state
	})
	db.Connect()

	waitForState(t, states, StateReady)
	// the idle connection is dropped and reopened
	waitForState(t, states, StateNotReady)
	waitForState(t, states, StateReady)
	assert.Equal(t, 2 <= mock.RequestCount("GET"), true)
}

func TestChangeFeedClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, db := newTestDatabase(t, ctx, rtdbmock.DefaultServerSettings())

	states := make(chan State, 16)
	db.AddStateCallback(func(state State) {
		states <- state
	})
	db.Connect()
	waitForState(t, states, StateReady)

	db.Feed().Close()
	assert.Equal(t, db.State(), StateNotReady)
	select {
	case <-db.Feed().Done():
	case <-time.After(time.Second):
		t.Fatal("feed not done")
	}
}
