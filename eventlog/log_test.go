package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/elertan/bronzeman-unleashed/dataprovider"
	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/rtdb"
	"github.com/elertan/bronzeman-unleashed/rtdbmock"
)


func testEventLogSettings() *EventLogSettings {
	settings := DefaultEventLogSettings()
	settings.GracePeriod = 200 * time.Millisecond
	settings.StaleThreshold = time.Second
	settings.StaleMargin = 100 * time.Millisecond
	settings.ReadinessSettings = &dataprovider.ReadinessSettings{
		RetryTimeout: 20 * time.Millisecond,
	}
	return settings
}

func newTestServer(t *testing.T) (*rtdbmock.Server, string) {
	mock := rtdbmock.NewServerWithDefaults()
	httpServer := httptest.NewServer(mock.Handler())
	t.Cleanup(func() {
		mock.Close()
		httpServer.Close()
	})
	return mock, httpServer.URL
}

// a started event log over its own connected database
func newTestEventLog(t *testing.T, ctx context.Context, databaseUrl string, producerId model.AccountHash) *EventLog {
	databaseSettings := rtdb.DefaultDatabaseSettings()
	databaseSettings.ChangeFeedSettings.ReconnectTimeout = 20 * time.Millisecond
	db, err := rtdb.NewDatabase(ctx, databaseUrl, "", databaseSettings)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	eventLog, err := NewEventLog(db, DefaultRegistry(), producerId, testEventLogSettings(), db)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eventLog.Close)

	eventLog.Start()
	db.Connect()
	if err := eventLog.WaitUntilReady(ctx, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	return eventLog
}

func waitFor(t *testing.T, condition func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if deadline.Before(time.Now()) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func storedEvent(eventType string, timestamp string) json.RawMessage {
	if timestamp == "" {
		return json.RawMessage(fmt.Sprintf(`{"type":%q,"producerId":"9","payload":{}}`, eventType))
	}
	return json.RawMessage(fmt.Sprintf(`{"type":%q,"producerId":"9","timestamp":%q,"payload":{}}`, eventType, timestamp))
}


type receivedEvent struct {
	entryKey string
	envelope *Envelope
}


func TestEventLogPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, databaseUrl := newTestServer(t)
	// present before Ready, so never delivered as an event
	mock.Set("/LastEvent/existing", storedEvent("QuestCompletionAchievement", time.Now().Format(time.RFC3339Nano)))

	producer := newTestEventLog(t, ctx, databaseUrl, 1)
	consumer := newTestEventLog(t, ctx, databaseUrl, 2)

	events := make(chan receivedEvent, 16)
	consumer.AddEventCallback(func(entryKey string, envelope *Envelope) {
		events <- receivedEvent{entryKey: entryKey, envelope: envelope}
	})
	ownEvents := make(chan receivedEvent, 16)
	producer.AddEventCallback(func(entryKey string, envelope *Envelope) {
		ownEvents <- receivedEvent{entryKey: entryKey, envelope: envelope}
	})

	entryKey, err := producer.Publish(ctx, &SkillLevelUpAchievement{Skill: "Mining", Level: 50})
	assert.Equal(t, err, nil)
	assert.Equal(t, producer.PendingSelfDeleteCount(), 1)

	var event receivedEvent
	select {
	case event = <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	assert.Equal(t, event.entryKey, entryKey)
	assert.Equal(t, event.envelope.Type, "SkillLevelUpAchievement")
	assert.Equal(t, event.envelope.ProducerId, model.AccountHash(1))
	assert.Equal(t, event.envelope.Timestamp.IsZero(), false)
	assert.Equal(t, event.envelope.Payload, &SkillLevelUpAchievement{Skill: "Mining", Level: 50})

	select {
	case event = <-ownEvents:
		assert.Equal(t, event.entryKey, entryKey)
	case <-time.After(5 * time.Second):
		t.Fatal("no own event")
	}

	// the event deletes itself after the grace period. The remove is not delivered.
	waitFor(t, func() bool {
		return rtdb.IsNull(mock.Data("/LastEvent/" + entryKey))
	})
	assert.Equal(t, producer.PendingSelfDeleteCount(), 0)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/existing")), false)

	select {
	case event = <-events:
		t.Fatalf("unexpected event %s", event.entryKey)
	case <-time.After(100 * time.Millisecond):
	}

	// unknown types are refused before writing
	_, err = producer.Publish(ctx, unregisteredPayload{})
	assert.Equal(t, errors.Is(err, ErrUnknownEventType), true)
}


type unregisteredPayload struct {
}

func (self unregisteredPayload) EventType() string {
	return "Unregistered"
}


func TestEventLogSkipsUnknownEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, databaseUrl := newTestServer(t)
	eventLog := newTestEventLog(t, ctx, databaseUrl, 1)

	events := make(chan receivedEvent, 16)
	eventLog.AddEventCallback(func(entryKey string, envelope *Envelope) {
		events <- receivedEvent{entryKey: entryKey, envelope: envelope}
	})
	eventLog.AddEventCallback(func(entryKey string, envelope *Envelope) {
		panic("callback failure")
	})

	now := time.Now().Format(time.RFC3339Nano)
	mock.Set("/LastEvent/a", storedEvent("Trade", now))
	mock.Set("/LastEvent/b", storedEvent("CombatLevelUpAchievement", now))

	select {
	case event := <-events:
		assert.Equal(t, event.entryKey, "b")
		assert.Equal(t, event.envelope.Payload, &CombatLevelUpAchievement{})
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
}


func TestEventLogSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, databaseUrl := newTestServer(t)
	old := time.Now().Add(-time.Hour).Format(time.RFC3339Nano)
	mock.Set("/LastEvent/old", storedEvent("PetDrop", old))
	mock.Set("/LastEvent/oldFailing", storedEvent("PetDrop", old))
	mock.Set("/LastEvent/noTimestamp", storedEvent("PetDrop", ""))
	mock.Set("/LastEvent/fresh", storedEvent("PetDrop", time.Now().Format(time.RFC3339Nano)))
	mock.SetFailure("DELETE", "/LastEvent/oldFailing", true)

	// the first Ready sweeps
	eventLog := newTestEventLog(t, ctx, databaseUrl, 1)
	waitFor(t, func() bool {
		return rtdb.IsNull(mock.Data("/LastEvent/old")) && rtdb.IsNull(mock.Data("/LastEvent/noTimestamp"))
	})
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/oldFailing")), false)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/fresh")), false)

	mock.SetFailure("DELETE", "/LastEvent/oldFailing", false)
	removedCount, err := eventLog.Sweep(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, removedCount, 1)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/oldFailing")), true)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/fresh")), false)

	// fresh becomes stale after the threshold
	time.Sleep(testEventLogSettings().StaleThreshold)
	removedCount, err = eventLog.Sweep(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, removedCount, 1)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent")), true)

	mock.SetUnavailable(true)
	_, err = eventLog.Sweep(ctx)
	assert.NotEqual(t, err, nil)
}


func TestEventLogSweepMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, databaseUrl := newTestServer(t)
	eventLog := newTestEventLog(t, ctx, databaseUrl, 1)

	now := time.Now().Format(time.RFC3339Nano)
	mock.Set("/LastEvent/badTimestamp", json.RawMessage(`{"type":"PetDrop","producerId":"9","timestamp":"yesterday","payload":{}}`))
	mock.Set("/LastEvent/badProducer", json.RawMessage(fmt.Sprintf(`{"type":"PetDrop","producerId":{"x":1},"timestamp":%q,"payload":{}}`, now)))
	mock.Set("/LastEvent/scalar", json.RawMessage(`"junk"`))
	mock.Set("/LastEvent/fresh", storedEvent("PetDrop", now))

	removedCount, err := eventLog.Sweep(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, removedCount, 3)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/badTimestamp")), true)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/badProducer")), true)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/scalar")), true)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/fresh")), false)
}


func TestEventLogClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, databaseUrl := newTestServer(t)

	databaseSettings := rtdb.DefaultDatabaseSettings()
	databaseSettings.ChangeFeedSettings.ReconnectTimeout = 20 * time.Millisecond
	db, err := rtdb.NewDatabase(ctx, databaseUrl, "", databaseSettings)
	assert.Equal(t, err, nil)
	defer db.Close()

	eventLog, err := NewEventLog(db, DefaultRegistry(), 1, testEventLogSettings(), db)
	assert.Equal(t, err, nil)

	_, err = eventLog.Publish(ctx, &TotalLevelAchievement{TotalLevel: 1000})
	assert.Equal(t, errors.Is(err, rtdb.ErrNotReady), true)

	eventLog.Start()
	db.Connect()
	assert.Equal(t, eventLog.WaitUntilReady(ctx, 5*time.Second), nil)

	entryKey, err := eventLog.Publish(ctx, &TotalLevelAchievement{TotalLevel: 1000})
	assert.Equal(t, err, nil)

	// the pending self delete is abandoned
	eventLog.Close()
	assert.Equal(t, eventLog.State(), rtdb.StateNotReady)
	time.Sleep(2 * testEventLogSettings().GracePeriod)
	assert.Equal(t, rtdb.IsNull(mock.Data("/LastEvent/"+entryKey)), false)

	_, err = eventLog.Publish(ctx, &TotalLevelAchievement{TotalLevel: 1001})
	assert.Equal(t, errors.Is(err, rtdb.ErrClosed), true)

	// close is idempotent
	eventLog.Close()
}
