package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raitonoberu/ytmusic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYTMusicResolveFirstValidItem(t *testing.T) {
	var got string
	r := NewYTMusicResolver(func(q string) ([]*ytmusic.TrackItem, error) {
		got = q
		return []*ytmusic.TrackItem{
			{Title: "no id"},
			{VideoID: "abc", Title: "Lofi", Duration: 200},
		}, nil
	})

	assert.True(t, r.CanResolve("YTM:lofi"))
	assert.False(t, r.CanResolve("lofi"))

	res, err := r.Resolve(context.Background(), "ytm: lofi", Scope{})
	require.NoError(t, err)
	assert.Equal(t, "lofi", got)
	require.True(t, res.Cacheable())
	assert.Equal(t, "abc", res.Tracks[0].Identifier)
	assert.Equal(t, 200*time.Second, res.Tracks[0].Duration)
	assert.True(t, res.Tracks[0].HasArtwork())
}

func TestYTMusicNoResults(t *testing.T) {
	r := NewYTMusicResolver(func(string) ([]*ytmusic.TrackItem, error) { return nil, nil })
	res, err := r.Resolve(context.Background(), "ytm:nothing", Scope{})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, SeveritySuspicious, res.Failure.Severity)
}

func TestYTMusicSearchError(t *testing.T) {
	r := NewYTMusicResolver(func(string) ([]*ytmusic.TrackItem, error) { return nil, errors.New("429") })
	_, err := r.Resolve(context.Background(), "ytm:x", Scope{})
	assert.Error(t, err)
}

func TestYTMusicAbandonedOnCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewYTMusicResolver(func(string) ([]*ytmusic.TrackItem, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx, "ytm:slow", Scope{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestYTMusicCodecRoundTrip(t *testing.T) {
	r := NewYTMusicResolver(nil)
	orig := ytmusicTrack(ytmusicPayload{VideoID: "abc", Title: "T", Author: "A", Duration: 61})

	enc, err := r.Encode(orig)
	require.NoError(t, err)
	got, err := r.Decode(context.Background(), enc.Payload)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}
