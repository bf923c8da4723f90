package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *KVStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return NewKVStore(db)
}

func TestKVStore_SetGetLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, KeyBoneInfo)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, KeyBoneInfo, `{"a":1}`))
	require.NoError(t, s.Set(ctx, KeyBoneInfo, `{"a":2}`))

	v, ok, err := s.Get(ctx, KeyBoneInfo)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":2}`, v)
}

func TestKVStore_HashFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.HGet(ctx, KeyNetworkInfo, FieldDDNS)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.HSet(ctx, KeyNetworkInfo, FieldDDNS, `"a.com"`))
	require.NoError(t, s.HSet(ctx, KeyNetworkInfo, FieldPublicIP, `"1.2.3.4"`))
	require.NoError(t, s.HSet(ctx, KeyNetworkInfo, FieldDDNS, `"b.com"`))

	v, ok, err := s.HGet(ctx, KeyNetworkInfo, FieldDDNS)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"b.com"`, v)

	all, err := s.HGetAll(ctx, KeyNetworkInfo)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{FieldDDNS: `"b.com"`, FieldPublicIP: `"1.2.3.4"`}, all)
}

func TestKVStore_HMSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HMSet(ctx, KeyServiceConfig, map[string]string{
		"adblock.dns": `["1.1.1.1"]`,
		"family.dns":  "8.8.8.8",
	}))
	require.NoError(t, s.HMSet(ctx, KeyServiceConfig, map[string]string{
		"family.dns": "9.9.9.9",
	}))

	all, err := s.HGetAll(ctx, KeyServiceConfig)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"adblock.dns": `["1.1.1.1"]`,
		"family.dns":  "9.9.9.9",
	}, all)

	assert.Error(t, s.HMSet(ctx, KeyServiceConfig, nil))
}

func TestKVStore_HGetAllMissingKey(t *testing.T) {
	s := openTestStore(t)

	all, err := s.HGetAll(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, all)
}
