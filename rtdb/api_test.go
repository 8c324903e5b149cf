package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/elertan/bronzeman-unleashed/rtdbmock"
)


func TestApiUrl(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := NewApiWithDefaults(ctx, "https://example.firebaseio.com/", "a b")
	assert.Equal(t, api.Url("/"), "https://example.firebaseio.com/.json?auth=a+b")
	assert.Equal(t, api.Url("/Members/1"), "https://example.firebaseio.com/Members/1.json?auth=a+b")
	assert.Equal(t, api.Url("/Ground Items"), "https://example.firebaseio.com/Ground%20Items.json?auth=a+b")

	api = NewApiWithDefaults(ctx, "https://example.firebaseio.com", "")
	assert.Equal(t, api.Url("/Members"), "https://example.firebaseio.com/Members.json")
}

func TestApiRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockSettings := rtdbmock.DefaultServerSettings()
	mockSettings.AuthToken = "secret"
	mock, db := newTestDatabase(t, ctx, mockSettings)

	data, err := db.Get(ctx, "/Members")
	assert.Equal(t, err, nil)
	assert.Equal(t, IsNull(data), true)

	err = db.Put(ctx, "/Members/1", json.RawMessage(`{"name":"a"}`))
	assert.Equal(t, err, nil)
	data, err = db.Get(ctx, "/Members")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), `{"1":{"name":"a"}}`)

	name, err := db.Post(ctx, "/LastEvent", json.RawMessage(`{"type":"x"}`))
	assert.Equal(t, err, nil)
	assert.NotEqual(t, name, "")
	assert.Equal(t, string(mock.Data("/LastEvent/"+name)), `{"type":"x"}`)

	err = db.Delete(ctx, "/Members/1")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(mock.Data("/Members")), "null")

	err = db.Put(ctx, "/Members/1", json.RawMessage(`null`))
	assert.Equal(t, errors.Is(err, ErrNullValue), true)
}

func TestApiErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockSettings := rtdbmock.DefaultServerSettings()
	mockSettings.AuthToken = "secret"
	mock, db := newTestDatabase(t, ctx, mockSettings)

	mock.SetFailure("PUT", "/Members/1", true)
	err := db.Put(ctx, "/Members/1", json.RawMessage(`true`))
	assert.Equal(t, errors.Is(err, ErrRemoteUnavailable), true)
	mock.SetFailure("PUT", "/Members/1", false)
	err = db.Put(ctx, "/Members/1", json.RawMessage(`true`))
	assert.Equal(t, err, nil)

	mock.SetUnavailable(true)
	_, err = db.Get(ctx, "/Members")
	assert.Equal(t, errors.Is(err, ErrRemoteUnavailable), true)
	mock.SetUnavailable(false)

	wrongAuth := NewApiWithDefaults(ctx, db.Api().DatabaseUrl(), "wrong")
	_, err = wrongAuth.Get(ctx, "/Members")
	assert.Equal(t, errors.Is(err, ErrRemoteUnavailable), true)

	// a closed api fails fast
	db.Api().Close()
	_, err = db.Get(ctx, "/Members")
	assert.Equal(t, errors.Is(err, ErrRemoteUnavailable), true)
}

func TestDatabaseAuthToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := []byte("test")
	now := time.Now()

	validToken, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": "player",
		"user_id": "player",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString(key)
	assert.Equal(t, err, nil)

	db, err := NewDatabaseWithDefaults(ctx, "https://example.firebaseio.com", validToken)
	assert.Equal(t, err, nil)
	assert.Equal(t, db.AuthClaims().Subject, "player")
	assert.Equal(t, db.AuthClaims().UserId, "player")
	assert.Equal(t, db.AuthClaims().ExpiresAt.Unix(), now.Add(time.Hour).Unix())
	db.Close()

	expiredToken, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": "player",
		"exp": now.Add(-time.Minute).Unix(),
	}).SignedString(key)
	assert.Equal(t, err, nil)

	_, err = NewDatabaseWithDefaults(ctx, "https://example.firebaseio.com", expiredToken)
	assert.Equal(t, errors.Is(err, ErrAuthExpired), true)

	// a database secret is not a jwt
	db, err = NewDatabaseWithDefaults(ctx, "https://example.firebaseio.com", "legacy-secret")
	assert.Equal(t, err, nil)
	assert.Equal(t, db.AuthClaims() == nil, true)
	db.Close()
}

func TestIdOrder(t *testing.T) {
	a := NewId()
	time.Sleep(2 * time.Millisecond)
	b := NewId()
	assert.Equal(t, a.String() < b.String(), true)

	parsed, err := ulid.ParseStrict(a.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, Id(parsed), a)
}
