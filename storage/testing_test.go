package storage

import (
	"context"
	"encoding/json"
	"flag"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elertan/bronzeman-unleashed/rtdb"
	"github.com/elertan/bronzeman-unleashed/rtdbmock"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}


type testMember struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}


func putEvent(path string, data string) rtdb.ChangeEvent {
	var rawData json.RawMessage
	if data != "" {
		rawData = json.RawMessage(data)
	}
	return rtdb.ChangeEvent{
		Kind: rtdb.ChangeKindPut,
		Path: path,
		Data: rawData,
	}
}

// a mock store served over http
func newTestServer(t *testing.T) (*rtdbmock.Server, string) {
	mock := rtdbmock.NewServerWithDefaults()
	httpServer := httptest.NewServer(mock.Handler())
	t.Cleanup(func() {
		mock.Close()
		httpServer.Close()
	})
	return mock, httpServer.URL
}

// a database for the store at `databaseUrl`, connected and Ready
func newTestDatabase(t *testing.T, ctx context.Context, databaseUrl string) *rtdb.Database {
	settings := rtdb.DefaultDatabaseSettings()
	settings.ChangeFeedSettings.ReconnectTimeout = 20 * time.Millisecond
	db, err := rtdb.NewDatabase(ctx, databaseUrl, "", settings)
	if err != nil {
		t.Fatal(err)
	}
	// cleanups run last in first out, so the database closes before the server
	t.Cleanup(db.Close)
	return db
}

func connect(t *testing.T, db *rtdb.Database) {
	ready := make(chan struct{})
	remove := db.AddStateCallback(func(state rtdb.State) {
		if state.IsReady() {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer remove()
	db.Connect()
	if db.State().IsReady() {
		return
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("database not ready")
	}
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

func receive[T any](t *testing.T, c <-chan T) T {
	select {
	case v := <-c:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
		var empty T
		return empty
	}
}
