package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"QFMBot/core/codec"
	"QFMBot/core/node"
	"QFMBot/core/node/nodetest"
	"QFMBot/model"
	"QFMBot/repository"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testCodec = "test"

type idCodec struct{}

func (idCodec) ID() string { return testCodec }
func (idCodec) CanEncode(t model.Track) bool { return t.Source == testCodec }
func (idCodec) CanDecode(e model.EncodedTrack) bool { return e.Codec == testCodec }
func (idCodec) Encode(t model.Track) (model.EncodedTrack, error) {
	return model.EncodedTrack{Codec: testCodec, Payload: t.Identifier}, nil
}
func (idCodec) Decode(_ context.Context, p string) (model.Track, error) {
	return track(p), nil
}

type otherCodec struct{}

func (otherCodec) ID() string { return "other" }
func (otherCodec) CanEncode(t model.Track) bool { return t.Source == "other" }
func (otherCodec) CanDecode(e model.EncodedTrack) bool { return e.Codec == "other" }
func (otherCodec) Encode(t model.Track) (model.EncodedTrack, error) {
	return model.EncodedTrack{Codec: "other", Payload: t.Identifier}, nil
}
func (otherCodec) Decode(_ context.Context, p string) (model.Track, error) {
	return model.Track{Identifier: p, Source: "other"}, nil
}

func track(id string) model.Track {
	return model.Track{Identifier: id, Source: testCodec}
}

// MockStore 播放列表仓库的 mock
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Store(ctx context.Context, p *model.StoredPlaylist) (*model.StoredPlaylist, error) {
	args := m.Called(ctx, p)
	if stored, ok := args.Get(0).(*model.StoredPlaylist); ok {
		return stored, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetByID(ctx context.Context, id string) (*model.StoredPlaylist, error) {
	args := m.Called(ctx, id)
	if stored, ok := args.Get(0).(*model.StoredPlaylist); ok {
		return stored, args.Error(1)
	}
	return nil, args.Error(1)
}

var _ repository.PlaylistRepository = (*MockStore)(nil)

type fakeDisplay struct {
	mu        sync.Mutex
	fail      error
	shutdowns []string
	notices   []string
	players   []Player
	history   [][]HistoryEntry
}

func (d *fakeDisplay) ExecuteShutdown(_ context.Context, _, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdowns = append(d.shutdowns, reason)
	return d.fail
}

func (d *fakeDisplay) NotifyReconnect(_ context.Context, resumeID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, resumeID)
	return d.fail
}

func (d *fakeDisplay) ChangePlayer(_ context.Context, p Player) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.players = append(d.players, p)
	return nil
}

func (d *fakeDisplay) WriteToQueueHistory(_ context.Context, entries []HistoryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, entries)
	return nil
}

type fakePlayer struct {
	mu        sync.Mutex
	snap      Snapshot
	displays  []Display
	frozen    bool
	destroyed bool
}

func (p *fakePlayer) SessionID() snowflake.ID { return p.snap.SessionID }

func (p *fakePlayer) Freeze() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return Snapshot{}, false
	}
	p.frozen = true
	return p.snap, true
}

func (p *fakePlayer) Thaw() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = false
}

func (p *fakePlayer) isFrozen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frozen
}

func (p *fakePlayer) DetachDisplays() []Display {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.displays
	p.displays = nil
	return out
}

func (p *fakePlayer) AttachDisplay(d Display) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays = append(p.displays, d)
}

func (p *fakePlayer) Destroy(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	err      error
	acquired []LaunchOptions
	players  []*fakePlayer
}

func (f *fakeFactory) Acquire(_ context.Context, sessionID, channelID snowflake.ID, opts LaunchOptions) (Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, opts)
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePlayer{snap: Snapshot{SessionID: sessionID, ChannelID: channelID}}
	f.players = append(f.players, p)
	return p, nil
}

type playerMap map[snowflake.ID]Player

func (m playerMap) Get(id snowflake.ID) (Player, bool) {
	p, ok := m[id]
	return p, ok
}

func newTestPlayer(displays ...Display) *fakePlayer {
	cur := track("cur")
	return &fakePlayer{
		snap: Snapshot{
			SessionID: 42,
			ChannelID: 7,
			Current:   &cur,
			Position:  90 * time.Second,
			History:   []model.Track{track("h1")},
			Queue:     []model.Track{track("q1"), track("q2")},
			Loop:      LoopQueue,
			Volume:    80,
		},
		displays: displays,
	}
}

func newTestManager(t *testing.T, pool *node.Pool, store *MockStore, factory *fakeFactory, players Players) *Manager {
	t.Helper()
	m := NewManager(pool, codec.NewRegistry(idCodec{}), store, players, factory, Options{RestartDelay: 10 * time.Millisecond})
	t.Cleanup(m.Close)
	return m
}

func TestShutdownSavesPlaylistAndNotifiesReconnect(t *testing.T) {
	store := new(MockStore)
	store.On("Store", mock.Anything, mock.MatchedBy(func(p *model.StoredPlaylist) bool {
		return len(p.Tracks) == 4 && p.ResumeIndex == 1 && p.ResumePositionMs == 90000 && p.AuthorID == "u1"
	})).Return(&model.StoredPlaylist{ID: "resume-1"}, nil).Once()

	factory := &fakeFactory{}
	d1, d2 := &fakeDisplay{}, &fakeDisplay{}
	p := newTestPlayer(d1, d2)
	m := newTestManager(t, node.NewPool(nodetest.New("a", node.StatusAvailable)), store, factory, playerMap{})

	res, err := m.Shutdown(context.Background(), p, ShutdownParams{SavePlaylist: true, AuthorID: "u1"}, "stopped")
	require.NoError(t, err)
	m.Wait()

	store.AssertExpectations(t)
	assert.Equal(t, "resume-1", res.ResumeID)
	assert.False(t, res.RestartScheduled)
	lines := strings.Split(res.Reason, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "stopped", lines[0])
	assert.Contains(t, lines[1], "resume-1")

	for _, d := range []*fakeDisplay{d1, d2} {
		assert.Equal(t, []string{"resume-1"}, d.notices)
		assert.Empty(t, d.shutdowns)
	}
	assert.True(t, p.destroyed)
	assert.Empty(t, factory.acquired)
}

func TestShutdownDisplaysIsolatesFailures(t *testing.T) {
	store := new(MockStore)
	broken := &fakeDisplay{fail: errors.New("message deleted")}
	ok := &fakeDisplay{}
	p := newTestPlayer(broken, ok)
	m := newTestManager(t, node.NewPool(), store, &fakeFactory{}, playerMap{})

	res, err := m.Shutdown(context.Background(), p, ShutdownParams{ShutdownDisplays: true}, "bye")
	require.NoError(t, err)

	assert.Equal(t, []string{"bye"}, broken.shutdowns)
	assert.Equal(t, []string{"bye"}, ok.shutdowns)
	assert.Empty(t, ok.notices)
	assert.Empty(t, res.ResumeID)
	assert.True(t, p.destroyed)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
}

func TestShutdownWithoutSaveOrDisplaysSendsNothing(t *testing.T) {
	d := &fakeDisplay{}
	m := newTestManager(t, node.NewPool(), new(MockStore), &fakeFactory{}, playerMap{})

	_, err := m.Shutdown(context.Background(), newTestPlayer(d), ShutdownParams{}, "bye")
	require.NoError(t, err)
	assert.Empty(t, d.shutdowns)
	assert.Empty(t, d.notices)
}

func TestShutdownStoreFailureContinues(t *testing.T) {
	store := new(MockStore)
	store.On("Store", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	d := &fakeDisplay{}
	p := newTestPlayer(d)
	m := newTestManager(t, node.NewPool(), store, &fakeFactory{}, playerMap{})

	res, err := m.Shutdown(context.Background(), p, ShutdownParams{SavePlaylist: true, ShutdownDisplays: true}, "bye")
	require.NoError(t, err)
	assert.Empty(t, res.ResumeID)
	assert.Equal(t, "bye", res.Reason)
	assert.Equal(t, []string{"bye"}, d.shutdowns)
	assert.True(t, p.destroyed)
}

func TestShutdownCodecMismatchAborts(t *testing.T) {
	store := new(MockStore)
	d := &fakeDisplay{}
	p := newTestPlayer(d)
	p.snap.Queue = append(p.snap.Queue, model.Track{Identifier: "x", Source: "unknown"})
	m := newTestManager(t, node.NewPool(), store, &fakeFactory{}, playerMap{})

	_, err := m.Shutdown(context.Background(), p, ShutdownParams{SavePlaylist: true, ShutdownDisplays: true}, "bye")
	require.ErrorIs(t, err, codec.ErrNoCodec)
	store.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	assert.Empty(t, d.shutdowns)
	assert.False(t, p.isFrozen())

	_, err = m.Shutdown(context.Background(), p, ShutdownParams{ShutdownDisplays: true}, "bye")
	require.NoError(t, err)
	assert.Equal(t, []string{"bye"}, d.shutdowns)
}

func TestShutdownTwiceSavesOnce(t *testing.T) {
	store := new(MockStore)
	store.On("Store", mock.Anything, mock.Anything).Return(&model.StoredPlaylist{ID: "resume-1"}, nil).Once()
	d := &fakeDisplay{}
	p := newTestPlayer(d)
	m := NewManager(node.NewPool(), codec.NewRegistry(idCodec{}), store, playerMap{42: p}, &fakeFactory{},
		Options{SessionParams: ShutdownParams{SavePlaylist: true, ShutdownDisplays: true}})
	defer m.Close()

	_, err := m.Shutdown(context.Background(), p, ShutdownParams{SavePlaylist: true, ShutdownDisplays: true}, "admin")
	require.NoError(t, err)

	_, err = m.Shutdown(context.Background(), p, ShutdownParams{SavePlaylist: true}, "again")
	assert.ErrorIs(t, err, ErrShuttingDown)
	require.NoError(t, m.ShutdownSession(context.Background(), 42, "Inactive"))

	store.AssertNumberOfCalls(t, "Store", 1)
	assert.Len(t, d.shutdowns, 1)
}

func TestRestartReattachesDisplays(t *testing.T) {
	store := new(MockStore)
	store.On("Store", mock.Anything, mock.Anything).Return(&model.StoredPlaylist{ID: "r9"}, nil)
	factory := &fakeFactory{}
	displays := []*fakeDisplay{{}, {}, {}}
	p := newTestPlayer(displays[0], displays[1], displays[2])
	m := newTestManager(t, node.NewPool(nodetest.New("a", node.StatusAvailable)), store, factory, playerMap{})

	res, err := m.Shutdown(context.Background(), p, ShutdownParams{SavePlaylist: true, RestartPlayer: true}, "node moved")
	require.NoError(t, err)
	assert.True(t, res.RestartScheduled)
	m.Wait()

	require.Len(t, factory.acquired, 1)
	opts := factory.acquired[0]
	require.NotNil(t, opts.Track)
	assert.Equal(t, "cur", opts.Track.Identifier)
	assert.Equal(t, 90*time.Second, opts.Track.StartPosition)
	assert.Len(t, opts.Queue, 2)
	assert.Equal(t, LoopQueue, opts.Loop)
	assert.Equal(t, 80, opts.Volume)

	newPlayer := factory.players[0]
	assert.Len(t, newPlayer.displays, 3)
	for _, d := range displays {
		require.Len(t, d.players, 1)
		assert.Same(t, newPlayer, d.players[0])
		require.Len(t, d.history, 1)
		entries := d.history[0]
		require.Len(t, entries, 2)
		assert.Equal(t, "h1", entries[0].Track.Identifier)
		assert.Nil(t, entries[1].Track)
		assert.Contains(t, entries[1].Note, "r9")
	}
}

func TestRestartAbandonedWithoutNode(t *testing.T) {
	factory := &fakeFactory{}
	d := &fakeDisplay{}
	m := newTestManager(t, node.NewPool(nodetest.New("a", node.StatusUnavailable)), new(MockStore), factory, playerMap{})

	_, err := m.Shutdown(context.Background(), newTestPlayer(d), ShutdownParams{RestartPlayer: true}, "bye")
	require.NoError(t, err)
	m.Wait()

	assert.Empty(t, factory.acquired)
	assert.Empty(t, d.players)
}

func TestRestartAbandonedOnAcquireError(t *testing.T) {
	factory := &fakeFactory{err: node.ErrNoAvailableNode}
	d := &fakeDisplay{}
	m := newTestManager(t, node.NewPool(nodetest.New("a", node.StatusAvailable)), new(MockStore), factory, playerMap{})

	_, err := m.Shutdown(context.Background(), newTestPlayer(d), ShutdownParams{RestartPlayer: true}, "bye")
	require.NoError(t, err)
	m.Wait()

	assert.Len(t, factory.acquired, 1)
	assert.Empty(t, d.players)
}

func TestShutdownSessionUsesConfiguredParams(t *testing.T) {
	d := &fakeDisplay{}
	p := newTestPlayer(d)
	m := NewManager(node.NewPool(), codec.NewRegistry(idCodec{}), new(MockStore), playerMap{42: p}, &fakeFactory{},
		Options{SessionParams: ShutdownParams{ShutdownDisplays: true}})
	defer m.Close()

	require.NoError(t, m.ShutdownSession(context.Background(), 42, "Inactive"))
	assert.Equal(t, []string{"Inactive"}, d.shutdowns)
	require.NoError(t, m.ShutdownSession(context.Background(), 1, "Inactive"))
}

func TestResumeDecodesAroundCurrentTrack(t *testing.T) {
	store := new(MockStore)
	store.On("GetByID", mock.Anything, "p1").Return(&model.StoredPlaylist{
		ID: "p1",
		Tracks: model.EncodedTrackList{
			{Codec: testCodec, Payload: "h1"},
			{Codec: testCodec, Payload: "cur"},
			{Codec: testCodec, Payload: "q1"},
		},
		ResumeIndex:      1,
		ResumePositionMs: 5000,
	}, nil)
	factory := &fakeFactory{}
	m := newTestManager(t, node.NewPool(nodetest.New("a", node.StatusAvailable)), store, factory, playerMap{})

	_, err := m.Resume(context.Background(), "p1", 42, 7)
	require.NoError(t, err)
	require.Len(t, factory.acquired, 1)
	opts := factory.acquired[0]
	assert.Equal(t, "cur", opts.Track.Identifier)
	assert.Equal(t, 5*time.Second, opts.Track.StartPosition)
	assert.Equal(t, []model.Track{track("h1")}, opts.History)
	assert.Equal(t, []model.Track{track("q1")}, opts.Queue)
}

func TestResumeKeepsMixedSourceOrder(t *testing.T) {
	store := new(MockStore)
	store.On("GetByID", mock.Anything, "p2").Return(&model.StoredPlaylist{
		ID: "p2",
		Tracks: model.EncodedTrackList{
			{Codec: testCodec, Payload: "cur"},
			{Codec: testCodec, Payload: "a"},
			{Codec: "other", Payload: "b"},
			{Codec: testCodec, Payload: "c"},
		},
		ResumeIndex: 0,
	}, nil)
	factory := &fakeFactory{}
	m := NewManager(node.NewPool(nodetest.New("a", node.StatusAvailable)), codec.NewRegistry(idCodec{}, otherCodec{}),
		store, playerMap{}, factory, Options{})
	defer m.Close()

	_, err := m.Resume(context.Background(), "p2", 42, 7)
	require.NoError(t, err)
	require.Len(t, factory.acquired, 1)
	queue := factory.acquired[0].Queue
	require.Len(t, queue, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{queue[0].Identifier, queue[1].Identifier, queue[2].Identifier})
}

func TestResumeMissingPlaylist(t *testing.T) {
	store := new(MockStore)
	store.On("GetByID", mock.Anything, "nope").Return(nil, repository.ErrPlaylistNotFound)
	m := newTestManager(t, node.NewPool(), store, &fakeFactory{}, playerMap{})

	_, err := m.Resume(context.Background(), "nope", 1, 1)
	assert.ErrorIs(t, err, repository.ErrPlaylistNotFound)
}

func TestWaitForAnyNodeAvailableImmediate(t *testing.T) {
	a := nodetest.New("a", node.StatusAvailable)
	b := nodetest.New("b", node.StatusUnavailable)
	m := newTestManager(t, node.NewPool(a, b), new(MockStore), &fakeFactory{}, playerMap{})

	require.NoError(t, m.WaitForAnyNodeAvailable(context.Background()))
	assert.Zero(t, b.Starts())
}

func TestWaitForAnyNodeAvailableFirstReadyWins(t *testing.T) {
	slow := nodetest.New("slow", node.StatusUnavailable)
	slow.SetReadyDelay(time.Second)
	fast := nodetest.New("fast", node.StatusUnavailable)
	fast.SetReadyDelay(10 * time.Millisecond)
	m := newTestManager(t, node.NewPool(slow, fast), new(MockStore), &fakeFactory{}, playerMap{})

	start := time.Now()
	require.NoError(t, m.WaitForAnyNodeAvailable(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, node.StatusAvailable, fast.Status())
	assert.Equal(t, 1, slow.Starts())
}

func TestWaitForAnyNodeAvailableAllFail(t *testing.T) {
	a := nodetest.New("a", node.StatusUnavailable)
	a.FailStart(errors.New("refused"))
	m := newTestManager(t, node.NewPool(a), new(MockStore), &fakeFactory{}, playerMap{})

	err := m.WaitForAnyNodeAvailable(context.Background())
	assert.ErrorIs(t, err, node.ErrNoAvailableNode)
}
