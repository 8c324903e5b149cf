package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/exp/maps"

	"github.com/elertan/bronzeman-unleashed/config"
	"github.com/elertan/bronzeman-unleashed/dataprovider"
	"github.com/elertan/bronzeman-unleashed/eventlog"
	"github.com/elertan/bronzeman-unleashed/rtdb"
	"github.com/elertan/bronzeman-unleashed/rtdbmock"
)


const SyncCtlVersion = "0.0.1"


var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}


func main() {
	usage := fmt.Sprintf(`Group state sync control.

Settings are read from the config file, then from %s_* environment variables.
--url and --auth override the database url and auth token.

Usage:
    syncctl serve [--config=<config>] [--addr=<addr>] [--seed=<seed_file>]
    syncctl tail [--config=<config>] [--url=<url>] [--auth=<auth>] [--count=<count>] [<path>]
    syncctl get [--config=<config>] [--url=<url>] [--auth=<auth>] <path>
    syncctl put [--config=<config>] [--url=<url>] [--auth=<auth>] <path> <value>
    syncctl post [--config=<config>] [--url=<url>] [--auth=<auth>] <path> <value>
    syncctl delete [--config=<config>] [--url=<url>] [--auth=<auth>] <path>
    syncctl publish [--config=<config>] [--url=<url>] [--auth=<auth>]
        --type=<type> [<payload>]
    syncctl sweep [--config=<config>] [--url=<url>] [--auth=<auth>]
    syncctl status [--config=<config>] [--url=<url>] [--auth=<auth>]
    syncctl event-types

Options:
    -h --help             Show this screen.
    --version             Show version.
    --config=<config>     Yaml config file.
    --url=<url>           Database url.
    --auth=<auth>         Database auth token or secret.
    --addr=<addr>         Listen address of the local store.
    --seed=<seed_file>    Json file loaded as the initial tree.
    --count=<count>       Print this many events then exit.
    --type=<type>         Event type. See event-types.`, config.EnvPrefix)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if get_, _ := opts.Bool("get"); get_ {
		get(opts)
	} else if put_, _ := opts.Bool("put"); put_ {
		put(opts)
	} else if post_, _ := opts.Bool("post"); post_ {
		post(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deletePath(opts)
	} else if publish_, _ := opts.Bool("publish"); publish_ {
		publish(opts)
	} else if sweep_, _ := opts.Bool("sweep"); sweep_ {
		sweep(opts)
	} else if status_, _ := opts.Bool("status"); status_ {
		status(opts)
	} else if eventTypes_, _ := opts.Bool("event-types"); eventTypes_ {
		eventTypes(opts)
	}
}


func loadConfig(opts docopt.Opts) *config.Config {
	configFile, _ := opts.String("--config")
	syncConfig, err := config.Load(configFile)
	if err != nil {
		Err.Fatalf("Invalid config (%s).", err)
	}
	if url, err := opts.String("--url"); err == nil && url != "" {
		syncConfig.Database.Url = url
	}
	if auth, err := opts.String("--auth"); err == nil && auth != "" {
		syncConfig.Database.AuthToken = auth
	}
	return syncConfig
}

func newDatabase(ctx context.Context, syncConfig *config.Config) *rtdb.Database {
	db, err := rtdb.NewDatabase(
		ctx,
		syncConfig.Database.Url,
		syncConfig.Database.AuthToken,
		syncConfig.DatabaseSettings(),
	)
	if err != nil {
		Err.Fatalf("Could not create database (%s).", err)
	}
	return db
}

// canceled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJson(data json.RawMessage) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		Out.Printf("%s", data)
		return
	}
	prettyData, _ := json.MarshalIndent(value, "", "  ")
	Out.Printf("%s", prettyData)
}


// run a local store
func serve(opts docopt.Opts) {
	syncConfig := loadConfig(opts)
	addr := syncConfig.Server.Addr
	if addr_, err := opts.String("--addr"); err == nil && addr_ != "" {
		addr = addr_
	}

	server := rtdbmock.NewServer(syncConfig.ServerSettings())

	if seedFile, err := opts.String("--seed"); err == nil && seedFile != "" {
		seedData, err := os.ReadFile(seedFile)
		if err != nil {
			Err.Fatalf("Could not read seed (%s).", err)
		}
		if err := server.Set("/", seedData); err != nil {
			Err.Fatalf("Invalid seed (%s).", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	Out.Printf("Serving on http://%s", addr)
	if err := server.ListenAndServe(ctx, addr); err != nil {
		Err.Fatalf("Serve failed (%s).", err)
	}
	Out.Printf("Exiting...")
}


// print change events under a path
func tail(opts docopt.Opts) {
	syncConfig := loadConfig(opts)
	path, _ := opts.String("<path>")
	if path == "" {
		path = "/"
	}
	var eventCount int
	if eventCount_, err := opts.Int("--count"); err == nil {
		eventCount = eventCount_
	} else {
		eventCount = -1
	}

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	db.AddStateCallback(func(state rtdb.State) {
		Err.Printf("%s", state)
	})

	events := make(chan rtdb.ChangeEvent, 64)
	unsubscribe := db.Subscribe(path, func(event rtdb.ChangeEvent) {
		select {
		case events <- event:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	db.Connect()

	for i := 0; eventCount < 0 || i < eventCount; i += 1 {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			Out.Printf("%s", event)
		}
	}
}


func get(opts docopt.Opts) {
	syncConfig := loadConfig(opts)
	path, _ := opts.String("<path>")

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	data, err := db.Get(ctx, path)
	if err != nil {
		Err.Fatalf("Get failed (%s).", err)
	}
	printJson(data)
}


func put(opts docopt.Opts) {
	syncConfig := loadConfig(opts)
	path, _ := opts.String("<path>")
	value, _ := opts.String("<value>")
	if !json.Valid([]byte(value)) {
		Err.Fatalf("Value is not json.")
	}

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	if err := db.Put(ctx, path, json.RawMessage(value)); err != nil {
		Err.Fatalf("Put failed (%s).", err)
	}
}


func post(opts docopt.Opts) {
	syncConfig := loadConfig(opts)
	path, _ := opts.String("<path>")
	value, _ := opts.String("<value>")
	if !json.Valid([]byte(value)) {
		Err.Fatalf("Value is not json.")
	}

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	entryKey, err := db.Post(ctx, path, json.RawMessage(value))
	if err != nil {
		Err.Fatalf("Post failed (%s).", err)
	}
	Out.Printf("%s", entryKey)
}


func deletePath(opts docopt.Opts) {
	syncConfig := loadConfig(opts)
	path, _ := opts.String("<path>")

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	if err := db.Delete(ctx, path); err != nil {
		Err.Fatalf("Delete failed (%s).", err)
	}
}


// publish one event and wait for its self delete
func publish(opts docopt.Opts) {
	syncConfig := loadConfig(opts)
	eventType, _ := opts.String("--type")
	payloadJson, _ := opts.String("<payload>")

	producerId, err := syncConfig.ProducerId()
	if err != nil {
		Err.Fatalf("%s.", err)
	}

	registry := eventlog.DefaultRegistry()
	payload, err := registry.Decode(eventType, json.RawMessage(payloadJson))
	if err != nil {
		Err.Fatalf("Invalid event (%s).", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	eventLogSettings := syncConfig.EventLogSettings()
	eventLog, err := eventlog.NewEventLog(db, registry, producerId, eventLogSettings, db)
	if err != nil {
		Err.Fatalf("Invalid event log (%s).", err)
	}
	defer eventLog.Close()

	eventLog.Start()
	db.Connect()
	if err := eventLog.WaitUntilReady(ctx, syncConfig.Provider.WaitTimeout); err != nil {
		Err.Fatalf("Event log not ready (%s).", err)
	}

	entryKey, err := eventLog.Publish(ctx, payload)
	if err != nil {
		Err.Fatalf("Publish failed (%s).", err)
	}
	Out.Printf("%s", entryKey)

	// closing now would leave the event for a sweep
	deadline := time.Now().Add(eventLogSettings.StaleThreshold)
	for 0 < eventLog.PendingSelfDeleteCount() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}


func sweep(opts docopt.Opts) {
	syncConfig := loadConfig(opts)

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	// the log is never started. Sweep only uses the store.
	eventLog, err := eventlog.NewEventLog(db, eventlog.DefaultRegistry(), 0, syncConfig.EventLogSettings())
	if err != nil {
		Err.Fatalf("Invalid event log (%s).", err)
	}
	defer eventLog.Close()

	removedCount, err := eventLog.Sweep(ctx)
	if err != nil {
		Err.Fatalf("Sweep failed (%s).", err)
	}
	Out.Printf("Removed %d stale events.", removedCount)
}


// wait for every provider and print what each holds
func status(opts docopt.Opts) {
	syncConfig := loadConfig(opts)

	ctx, cancel := signalContext()
	defer cancel()

	db := newDatabase(ctx, syncConfig)
	defer db.Close()

	if authClaims := db.AuthClaims(); authClaims != nil {
		Out.Printf("auth: %s expires %s", authClaims.Subject, authClaims.ExpiresAt)
	}

	readinessSettings := syncConfig.ReadinessSettings()

	gameRules, err := dataprovider.NewGameRulesProvider(db, readinessSettings, db)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer gameRules.Close()
	members, err := dataprovider.NewMembersProvider(db, readinessSettings, db)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer members.Close()
	// unlocks are only meaningful to members
	unlockedItems, err := dataprovider.NewUnlockedItemsProvider(db, readinessSettings, db, members)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer unlockedItems.Close()
	groundItemOwnedBy, err := dataprovider.NewGroundItemOwnedByProvider(db, readinessSettings, db, members)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	defer groundItemOwnedBy.Close()

	gameRules.Start()
	members.Start()
	unlockedItems.Start()
	groundItemOwnedBy.Start()
	db.Connect()

	err = dataprovider.WaitAllReady(
		ctx,
		syncConfig.Provider.WaitTimeout,
		gameRules,
		members,
		unlockedItems,
		groundItemOwnedBy,
	)
	if err != nil {
		Err.Fatalf("Not ready (%s).", err)
	}

	Out.Printf("instance: %s", db.InstanceId())

	if rules, err := gameRules.GameRulesOrDefault(); err == nil {
		rulesJson, _ := json.Marshal(rules)
		Out.Printf("game rules: %s", rulesJson)
	}

	if memberMap, err := members.Members(); err == nil {
		Out.Printf("members: %d", len(memberMap))
		accountHashes := maps.Keys(memberMap)
		slices.Sort(accountHashes)
		for _, accountHash := range accountHashes {
			member := memberMap[accountHash]
			Out.Printf("    %s %s %s joined %s", accountHash, member.Name, member.Role, member.JoinedAt.Format(time.RFC3339))
		}
	}

	if unlockedItemMap, err := unlockedItems.UnlockedItems(); err == nil {
		Out.Printf("unlocked items: %d", len(unlockedItemMap))
	}

	if owned, err := groundItemOwnedBy.GroundItemOwnedBy(); err == nil {
		entryCount := 0
		for _, entries := range owned {
			entryCount += len(entries)
		}
		Out.Printf("owned ground items: %d (%d owners)", len(owned), entryCount)
	}
}


func eventTypes(opts docopt.Opts) {
	for _, eventType := range eventlog.DefaultRegistry().Types() {
		Out.Printf("%s", eventType)
	}
}
