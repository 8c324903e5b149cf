package rtdb

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elertan/bronzeman-unleashed/rtdbmock"
)


func testDatabaseSettings() *DatabaseSettings {
	settings := DefaultDatabaseSettings()
	settings.ChangeFeedSettings.ReconnectTimeout = 20 * time.Millisecond
	settings.ApiSettings.HttpTimeout = 5 * time.Second
	return settings
}

// a mock store served over http, and a database connected to it
func newTestDatabase(t *testing.T, ctx context.Context, mockSettings *rtdbmock.ServerSettings) (*rtdbmock.Server, *Database) {
	mock := rtdbmock.NewServer(mockSettings)
	httpServer := httptest.NewServer(mock.Handler())

	db, err := NewDatabase(ctx, httpServer.URL, mockSettings.AuthToken, testDatabaseSettings())
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		db.Close()
		mock.Close()
		httpServer.Close()
	})
	return mock, db
}

func waitForState(t *testing.T, states <-chan State, state State) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == state {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", state)
		}
	}
}

func nextChangeEvent(t *testing.T, events <-chan ChangeEvent) ChangeEvent {
	select {
	case event := <-events:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}
