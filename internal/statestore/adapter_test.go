package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, WithClock(func() time.Time {
		return time.Unix(1700000000, 0)
	})), mr
}

func TestUpsertFind_PlainModel(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sessions := store.Adapter(ModelSession)

	payload := Payload{"uid": "uid-1", "accountId": "JEUNE|MILO|sub-1"}
	require.NoError(t, sessions.Upsert(ctx, "sess-1", payload, time.Hour))

	found, err := sessions.Find(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "JEUNE|MILO|sub-1", found["accountId"])
	assert.Zero(t, found.Consumed())
}

func TestFind_MissingIsNotAnError(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	found, err := store.Adapter(ModelGrant).Find(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = store.Adapter(ModelRefreshToken).Find(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFind_ReadFailureDegradesToNotFound(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	found, err := store.Adapter(ModelSession).Find(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestConsume_MarksWithoutDeleting(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	codes := store.Adapter(ModelAuthorizationCode)

	require.NoError(t, codes.Upsert(ctx, "code-1", Payload{"grantId": "g-1"}, time.Minute))

	before, err := codes.Find(ctx, "code-1")
	require.NoError(t, err)
	assert.Zero(t, before.Consumed())

	require.NoError(t, codes.Consume(ctx, "code-1"))

	after, err := codes.Find(ctx, "code-1")
	require.NoError(t, err)
	require.NotNil(t, after, "consumed record must stay readable")
	assert.Equal(t, int64(1700000000), after.Consumed())

	// A second consume is observable but does not destroy the record either.
	require.NoError(t, codes.Consume(ctx, "code-1"))
	again, err := codes.Find(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), again.Consumed())
}

func TestConsume_FirstTimestampWins(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Unix(1000, 0)
	store := NewStore(client, WithClock(func() time.Time { return now }))
	codes := store.Adapter(ModelAuthorizationCode)
	ctx := context.Background()

	require.NoError(t, codes.Upsert(ctx, "code-1", Payload{"grantId": "g-1"}, time.Minute))
	require.NoError(t, codes.Consume(ctx, "code-1"))

	now = time.Unix(2000, 0)
	require.NoError(t, codes.Consume(ctx, "code-1"))

	found, err := codes.Find(ctx, "code-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(1000), found.Consumed(), "first consumption timestamp must stick")
}

func TestRevokeByGrantID_CascadesOverEveryUpsertedKey(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	tokens := store.Adapter(ModelAccessToken)
	refresh := store.Adapter(ModelRefreshToken)
	codes := store.Adapter(ModelAuthorizationCode)

	require.NoError(t, tokens.Upsert(ctx, "at-1", Payload{"grantId": "g-1"}, time.Hour))
	require.NoError(t, refresh.Upsert(ctx, "rt-1", Payload{"grantId": "g-1"}, time.Hour))
	require.NoError(t, codes.Upsert(ctx, "code-1", Payload{"grantId": "g-1"}, time.Hour))
	// A record under another grant must survive.
	require.NoError(t, tokens.Upsert(ctx, "at-2", Payload{"grantId": "g-2"}, time.Hour))

	require.NoError(t, tokens.RevokeByGrantID(ctx, "g-1"))

	for adapter, id := range map[*Adapter]string{tokens: "at-1", refresh: "rt-1", codes: "code-1"} {
		found, err := adapter.Find(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, found, "key %s must be gone", id)
	}
	assert.False(t, mr.Exists("grant:g-1"))

	survivor, err := tokens.Find(ctx, "at-2")
	require.NoError(t, err)
	assert.NotNil(t, survivor)
	assert.True(t, mr.Exists("grant:g-2"))
}

func TestUpsert_GrantListTTLOnlyExtends(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	tokens := store.Adapter(ModelAccessToken)

	require.NoError(t, tokens.Upsert(ctx, "at-1", Payload{"grantId": "g-1"}, 100*time.Second))
	assert.Equal(t, 100*time.Second, mr.TTL("grant:g-1"))

	// Shorter-lived sibling must not shrink the list TTL.
	require.NoError(t, tokens.Upsert(ctx, "at-2", Payload{"grantId": "g-1"}, 50*time.Second))
	assert.Equal(t, 100*time.Second, mr.TTL("grant:g-1"))

	// Longer-lived sibling extends it.
	require.NoError(t, tokens.Upsert(ctx, "at-3", Payload{"grantId": "g-1"}, 200*time.Second))
	assert.Equal(t, 200*time.Second, mr.TTL("grant:g-1"))
}

func TestSecondaryIndices(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sessions := store.Adapter(ModelSession)
	require.NoError(t, sessions.Upsert(ctx, "sess-1", Payload{"uid": "uid-1"}, time.Hour))

	byUID, err := sessions.FindByUID(ctx, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, byUID)
	assert.Equal(t, "uid-1", byUID.UID())

	devices := store.Adapter(ModelDeviceCode)
	require.NoError(t, devices.Upsert(ctx, "dev-1", Payload{"userCode": "WDJB-MJHT"}, time.Hour))

	byCode, err := devices.FindByUserCode(ctx, "WDJB-MJHT")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, "WDJB-MJHT", byCode.UserCode())

	missing, err := sessions.FindByUID(ctx, "uid-absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsert_RecordExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	codes := store.Adapter(ModelAuthorizationCode)

	require.NoError(t, codes.Upsert(ctx, "code-1", Payload{}, 10*time.Second))
	mr.FastForward(11 * time.Second)

	found, err := codes.Find(ctx, "code-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}
