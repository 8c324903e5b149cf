package dataprovider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/elertan/bronzeman-unleashed/model"
	"github.com/elertan/bronzeman-unleashed/rtdb"
	"github.com/elertan/bronzeman-unleashed/rtdbmock"
	"github.com/elertan/bronzeman-unleashed/storage"
)


func newTestDatabase(t *testing.T, ctx context.Context) (*rtdbmock.Server, *rtdb.Database) {
	mock := rtdbmock.NewServerWithDefaults()
	httpServer := httptest.NewServer(mock.Handler())

	settings := rtdb.DefaultDatabaseSettings()
	settings.ChangeFeedSettings.ReconnectTimeout = 20 * time.Millisecond
	db, err := rtdb.NewDatabase(ctx, httpServer.URL, "", settings)
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


func TestMembersProvider(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, db := newTestDatabase(t, ctx)
	mock.Set(MembersPath, json.RawMessage(`{
		"1": {"accountHash": "1", "name": "owner", "role": "Owner"},
		"bad": {"accountHash": "2", "name": "bad key"}
	}`))

	members, err := NewMembersProvider(db, testReadinessSettings(), db)
	assert.Equal(t, err, nil)
	defer members.Close()

	_, err = members.Members()
	assert.Equal(t, errors.Is(err, rtdb.ErrNotReady), true)
	err = members.AddMember(ctx, model.Member{AccountHash: 2})
	assert.Equal(t, errors.Is(err, rtdb.ErrNotReady), true)

	members.Start()
	db.Connect()
	assert.Equal(t, members.WaitUntilReady(ctx, 5*time.Second), nil)

	cache, err := members.Members()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(cache), 1)
	assert.Equal(t, cache[1].Name, "owner")

	type memberUpdate struct {
		member model.Member
		previous *model.Member
	}
	updates := make(chan memberUpdate, 16)
	members.AddListener(&storage.KeyValueListener[model.AccountHash, model.Member]{
		OnUpdate: func(accountHash model.AccountHash, member model.Member, previous *model.Member) {
			updates <- memberUpdate{member, previous}
		},
	})

	newMember := model.Member{
		AccountHash: 2,
		Name: "new",
		Role: model.MemberRoleMember,
		JoinedAt: model.Now(),
	}
	err = members.AddMember(ctx, newMember)
	assert.Equal(t, err, nil)

	update := receive(t, updates)
	assert.Equal(t, update.member.Name, "new")
	// the own join is reported as new
	assert.Equal(t, update.previous == nil, true)

	err = members.PromoteToOwner(ctx, 2)
	assert.Equal(t, err, nil)
	for i := 0; i < 2; i += 1 {
		receive(t, updates)
	}
	cache, err = members.Members()
	assert.Equal(t, err, nil)
	assert.Equal(t, cache[2].Role, model.MemberRoleOwner)
	assert.Equal(t, cache[1].Role, model.MemberRoleMember)

	err = members.PromoteToOwner(ctx, 3)
	assert.Equal(t, errors.Is(err, rtdb.ErrNotFound), true)

	err = members.RemoveMember(ctx, 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(mock.Data("/Members/1")), "null")
}

func TestMembersProviderUpdateAsync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, db := newTestDatabase(t, ctx)

	members, err := NewMembersProvider(db, testReadinessSettings(), db)
	assert.Equal(t, err, nil)
	defer members.Close()

	err = receive(t, members.UpdateMemberAsync(ctx, model.Member{AccountHash: 5}))
	assert.Equal(t, errors.Is(err, rtdb.ErrNotReady), true)

	members.Start()
	db.Connect()
	assert.Equal(t, members.WaitUntilReady(ctx, 5*time.Second), nil)

	result := members.UpdateMemberAsync(ctx, model.Member{AccountHash: 5, Name: "new"})
	// visible before the store answers
	member, ok, err := members.Member(5)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, member.Name, "new")

	assert.Equal(t, receive(t, result), nil)
	deadline := time.Now().Add(5 * time.Second)
	for members.IsPending(5) {
		if deadline.Before(time.Now()) {
			t.Fatal("write to 5 never echoed")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, string(mock.Data("/Members/5/name")), `"new"`)

	// a rejected write is rolled back locally
	mock.SetFailure("PUT", "/Members/6", true)
	result = members.UpdateMemberAsync(ctx, model.Member{AccountHash: 6, Name: "rejected"})
	assert.NotEqual(t, receive(t, result), nil)
	_, ok, _ = members.Member(6)
	assert.Equal(t, ok, false)
	assert.Equal(t, members.IsPending(6), false)
}


func TestProvidersFollowDatabase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock, db := newTestDatabase(t, ctx)

	gameRules, err := NewGameRulesProvider(db, testReadinessSettings(), db)
	assert.Equal(t, err, nil)
	defer gameRules.Close()
	unlockedItems, err := NewUnlockedItemsProvider(db, testReadinessSettings(), db)
	assert.Equal(t, err, nil)
	defer unlockedItems.Close()
	// ownership waits for the unlocked items
	groundItemOwnedBy, err := NewGroundItemOwnedByProvider(db, testReadinessSettings(), db, unlockedItems)
	assert.Equal(t, err, nil)
	defer groundItemOwnedBy.Close()

	gameRules.Start()
	unlockedItems.Start()
	groundItemOwnedBy.Start()
	db.Connect()

	err = WaitAllReady(ctx, 5*time.Second, gameRules, unlockedItems, groundItemOwnedBy)
	assert.Equal(t, err, nil)

	rules, err := gameRules.GameRules()
	assert.Equal(t, err, nil)
	assert.Equal(t, rules == nil, true)
	rules, err = gameRules.GameRulesOrDefault()
	assert.Equal(t, err, nil)
	assert.Equal(t, rules, model.DefaultGameRules())

	ruleUpdates := make(chan model.GameRules, 16)
	gameRules.AddListener(&storage.ObjectListener[model.GameRules]{
		OnUpdate: func(value model.GameRules) {
			ruleUpdates <- value
		},
	})
	password := "secret"
	err = gameRules.UpdateGameRules(ctx, &model.GameRules{PartyPassword: &password})
	assert.Equal(t, err, nil)
	assert.Equal(t, *receive(t, ruleUpdates).PartyPassword, "secret")

	itemAdds := make(chan int, 16)
	unlockedItems.AddListener(&storage.KeyValueListener[int, model.UnlockedItem]{
		OnUpdate: func(itemId int, unlockedItem model.UnlockedItem, previous *model.UnlockedItem) {
			itemAdds <- itemId
		},
	})
	err = unlockedItems.AddUnlockedItem(ctx, model.UnlockedItem{Id: 4151, Name: "Abyssal whip", AcquiredByAccountHash: 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, receive(t, itemAdds), 4151)
	unlocked, err := unlockedItems.IsUnlocked(4151)
	assert.Equal(t, err, nil)
	assert.Equal(t, unlocked, true)

	key := model.GroundItemOwnedByKey{ItemId: 4151, World: 301, Plane: 0, WorldX: 3222, WorldY: 3218}
	ownerAdds := make(chan string, 16)
	ownerRemoves := make(chan string, 16)
	groundItemOwnedBy.AddListener(&storage.KeyListListener[model.GroundItemOwnedByKey, model.GroundItemOwnedByData]{
		OnAdd: func(key model.GroundItemOwnedByKey, entryKey string, data model.GroundItemOwnedByData) {
			ownerAdds <- entryKey
		},
		OnRemove: func(key model.GroundItemOwnedByKey, entryKey string) {
			ownerRemoves <- entryKey
		},
	})
	entryKey, err := groundItemOwnedBy.AddOwner(ctx, key, model.GroundItemOwnedByData{AccountHash: 1, DroppedAt: model.Now()})
	assert.Equal(t, err, nil)
	assert.Equal(t, receive(t, ownerAdds), entryKey)
	assert.NotEqual(t, string(mock.Data("/GroundItemOwnedBy/4151_301_0_0_3222_3218/"+entryKey)), "null")
	owned, err := groundItemOwnedBy.IsOwned(key)
	assert.Equal(t, err, nil)
	assert.Equal(t, owned, true)

	err = groundItemOwnedBy.RemoveOneOwner(ctx, key)
	assert.Equal(t, err, nil)
	assert.Equal(t, receive(t, ownerRemoves), entryKey)
	owners, err := groundItemOwnedBy.Owners(key)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(owners), 0)

	// losing the connection drops every provider
	mock.SetUnavailable(true)
	mock.DropStreams()
	waitForState(t, gameRules, rtdb.StateNotReady)
	waitForState(t, unlockedItems, rtdb.StateNotReady)
	waitForState(t, groundItemOwnedBy, rtdb.StateNotReady)
	_, err = unlockedItems.UnlockedItems()
	assert.Equal(t, errors.Is(err, rtdb.ErrNotReady), true)

	// written while this client was offline
	mock.Set("/UnlockedItems/995", json.RawMessage(`{"id": 995, "name": "Coins", "acquiredByAccountHash": "2"}`))
	mock.SetUnavailable(false)

	err = WaitAllReady(ctx, 5*time.Second, gameRules, unlockedItems, groundItemOwnedBy)
	assert.Equal(t, err, nil)
	unlockedItem, ok, err := unlockedItems.UnlockedItem(995)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, unlockedItem.AcquiredByAccountHash, model.AccountHash(2))
}
