package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGetRoundTrip(t *testing.T) {
	store := NewStore()
	sess := NewCallSession("call-1", "chan-1", "bridge-1")
	sess.AppendHistory("user", "hello")
	store.UpsertCall(sess)

	got, ok := store.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, "call-1", got.CallID)
	assert.Len(t, got.ConversationHistory, 1)

	// Mutating the snapshot must not affect the store.
	got.ConversationHistory[0].Content = "mutated"
	got2, _ := store.Get("call-1")
	assert.Equal(t, "hello", got2.ConversationHistory[0].Content)
}

func TestGetUnknownCall(t *testing.T) {
	store := NewStore()
	_, ok := store.Get("missing")
	assert.False(t, ok)
}

func TestGatingTokenCASRejectsContention(t *testing.T) {
	store := NewStore()
	store.UpsertCall(NewCallSession("call-1", "chan-1", "bridge-1"))

	assert.True(t, store.SetGatingToken("call-1", "stream-a"))
	assert.False(t, store.SetGatingToken("call-1", "stream-b"))
	assert.Equal(t, "stream-a", store.GatingToken("call-1"))
}

func TestGatingTokenCASIdempotentForSameToken(t *testing.T) {
	store := NewStore()
	store.UpsertCall(NewCallSession("call-1", "chan-1", "bridge-1"))

	assert.True(t, store.SetGatingToken("call-1", "stream-a"))
	assert.True(t, store.SetGatingToken("call-1", "stream-a"))
}

func TestClearGatingTokenOnlyClearsMatchingToken(t *testing.T) {
	store := NewStore()
	store.UpsertCall(NewCallSession("call-1", "chan-1", "bridge-1"))
	store.SetGatingToken("call-1", "stream-a")

	assert.False(t, store.ClearGatingToken("call-1", "stream-b"))
	assert.Equal(t, "stream-a", store.GatingToken("call-1"))

	assert.True(t, store.ClearGatingToken("call-1", "stream-a"))
	assert.Equal(t, "", store.GatingToken("call-1"))
}

func TestStopStreamingPlaybackTwiceSemantics(t *testing.T) {
	// Mirrors the spec's idempotence law for stop_streaming_playback: the
	// second clear of the same token is a no-op.
	store := NewStore()
	store.UpsertCall(NewCallSession("call-1", "chan-1", "bridge-1"))
	store.SetGatingToken("call-1", "stream-a")

	first := store.ClearGatingToken("call-1", "stream-a")
	second := store.ClearGatingToken("call-1", "stream-a")

	assert.True(t, first)
	assert.False(t, second)
}

func TestDeleteRemovesSession(t *testing.T) {
	store := NewStore()
	store.UpsertCall(NewCallSession("call-1", "chan-1", "bridge-1"))
	store.Delete("call-1")

	_, ok := store.Get("call-1")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}
