package codec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"QFMBot/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// prefixCodec 把 Identifier 直接作为 payload
type prefixCodec struct {
	id string
}

func (c *prefixCodec) ID() string { return c.id }

func (c *prefixCodec) CanEncode(t model.Track) bool { return t.Source == c.id }

func (c *prefixCodec) Encode(t model.Track) (model.EncodedTrack, error) {
	return model.EncodedTrack{Codec: c.id, Payload: t.Identifier}, nil
}

func (c *prefixCodec) CanDecode(e model.EncodedTrack) bool { return e.Codec == c.id }

func (c *prefixCodec) Decode(ctx context.Context, payload string) (model.Track, error) {
	return model.Track{Source: c.id, Identifier: payload}, nil
}

// MockBatchCodec 记录批量调用
type MockBatchCodec struct {
	mock.Mock
	prefixCodec
}

func (m *MockBatchCodec) DecodeBatch(ctx context.Context, payloads []string) ([]model.Track, error) {
	args := m.Called(payloads)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	out := make([]model.Track, len(payloads))
	for i, p := range payloads {
		out[i] = model.Track{Source: m.id, Identifier: p}
	}
	return out, nil
}

func TestEncodeFirstMatch(t *testing.T) {
	r := NewRegistry(&prefixCodec{id: "a"}, &prefixCodec{id: "b"})

	enc, err := r.Encode(model.Track{Source: "b", Identifier: "42"})
	require.NoError(t, err)
	assert.Equal(t, model.EncodedTrack{Codec: "b", Payload: "42"}, enc)
}

func TestEncodeMismatch(t *testing.T) {
	r := NewRegistry(&prefixCodec{id: "a"})

	_, err := r.Encode(model.Track{Source: "zzz"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCodec)

	var mm *MismatchError
	assert.True(t, errors.As(err, &mm))
	assert.Equal(t, "encode", mm.Op)
}

func TestDecodeAllGroupsPerCodec(t *testing.T) {
	batch := &MockBatchCodec{prefixCodec: prefixCodec{id: "batch"}}
	batch.On("DecodeBatch", []string{"1", "3"}).Return(nil).Once()

	r := NewRegistry(batch, &prefixCodec{id: "plain"})
	input := []model.EncodedTrack{
		{Codec: "batch", Payload: "1"},
		{Codec: "plain", Payload: "2"},
		{Codec: "batch", Payload: "3"},
	}

	tracks, err := r.DecodeAll(context.Background(), input)
	require.NoError(t, err)
	batch.AssertExpectations(t)

	require.Len(t, tracks, 3)
	var batchIDs []string
	for _, tr := range tracks {
		if tr.Source == "batch" {
			batchIDs = append(batchIDs, tr.Identifier)
		}
	}
	assert.Equal(t, []string{"1", "3"}, batchIDs, "within-group order is preserved")
	assert.ElementsMatch(t, []string{"1", "2", "3"}, identifiers(tracks))
}

func TestDecodeAllOrderedKeepsInputOrder(t *testing.T) {
	batch := &MockBatchCodec{prefixCodec: prefixCodec{id: "batch"}}
	batch.On("DecodeBatch", []string{"1", "3"}).Return(nil).Once()
	r := NewRegistry(batch, &prefixCodec{id: "plain"})

	tracks, err := r.DecodeAllOrdered(context.Background(), []model.EncodedTrack{
		{Codec: "batch", Payload: "1"},
		{Codec: "plain", Payload: "2"},
		{Codec: "batch", Payload: "3"},
	})
	require.NoError(t, err)
	batch.AssertExpectations(t)
	assert.Equal(t, []string{"1", "2", "3"}, identifiers(tracks))
}

func TestDecodeAllMissingCodecIsFatal(t *testing.T) {
	r := NewRegistry(&prefixCodec{id: "a"})

	_, err := r.DecodeAll(context.Background(), []model.EncodedTrack{
		{Codec: "a", Payload: "1"},
		{Codec: "gone", Payload: "2"},
	})
	assert.ErrorIs(t, err, ErrNoCodec)
}

func TestDecodeAllPropagatesGroupError(t *testing.T) {
	batch := &MockBatchCodec{prefixCodec: prefixCodec{id: "batch"}}
	batch.On("DecodeBatch", mock.Anything).Return(fmt.Errorf("upstream down"))

	r := NewRegistry(batch)
	_, err := r.DecodeAll(context.Background(), []model.EncodedTrack{{Codec: "batch", Payload: "1"}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "upstream down"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := NewRegistry(&prefixCodec{id: "a"})
	orig := model.Track{Source: "a", Identifier: "x"}

	enc, err := r.Encode(orig)
	require.NoError(t, err)
	got, err := r.Decode(context.Background(), enc)
	require.NoError(t, err)
	assert.Equal(t, orig.Identifier, got.Identifier)
}

func TestChunk(t *testing.T) {
	payloads := make([]string, 950)
	for i := range payloads {
		payloads[i] = fmt.Sprint(i)
	}
	chunks := Chunk(payloads, MaxBatchSize)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 400)
	assert.Len(t, chunks[1], 400)
	assert.Len(t, chunks[2], 150)
	assert.Equal(t, "949", chunks[2][149])

	assert.Nil(t, Chunk(nil, 10))
}

func identifiers(tracks []model.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Identifier
	}
	return out
}
