package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecloud/pushgate/internal/bus"
	"github.com/filecloud/pushgate/internal/event"
	"github.com/filecloud/pushgate/internal/metrics"
	"github.com/filecloud/pushgate/internal/user"
)

type fakeBus struct {
	messages chan bus.Message
	err      error
	channels []string
}

func (b *fakeBus) Subscribe(_ context.Context, channels ...string) (<-chan bus.Message, error) {
	b.channels = channels
	if b.err != nil {
		return nil, b.err
	}
	return b.messages, nil
}

type fakeResolver struct {
	users map[uint32]map[string][]user.ID
	err   error
	loads int
}

func (r *fakeResolver) GetUsersForStoragePath(_ context.Context, storage uint32, path string) ([]user.ID, error) {
	r.loads++
	if r.err != nil {
		return nil, r.err
	}
	return r.users[storage][path], nil
}

type sent struct {
	user    user.ID
	message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *fakeNotifier) SendToUser(u user.ID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{user: u, message: message})
}

func (n *fakeNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

type testPipeline struct {
	bus      *fakeBus
	resolver *fakeResolver
	notifier *fakeNotifier
	d        *Dispatcher
	cancel   context.CancelFunc
	done     chan error
}

func startPipeline(t *testing.T, resolver *fakeResolver) *testPipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p := &testPipeline{
		bus:      &fakeBus{messages: make(chan bus.Message)},
		resolver: resolver,
		notifier: &fakeNotifier{},
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	p.d = New(p.bus, p.resolver, p.notifier, metrics.NewForTesting())

	go func() {
		p.done <- p.d.Run(ctx)
	}()
	return p
}

// finish shuts the pipeline down cleanly: cancel first, so the closing
// stream reads as shutdown rather than a terminal stream failure.
func (p *testPipeline) finish(t *testing.T) error {
	t.Helper()
	p.cancel()
	close(p.bus.messages)
	select {
	case err := <-p.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
		return nil
	}
}

func TestStorageUpdateFansOutToMatchingUsers(t *testing.T) {
	resolver := &fakeResolver{users: map[uint32]map[string][]user.ID{
		42: {"/docs": {"alice", "alice", "bob"}},
	}}
	p := startPipeline(t, resolver)

	p.bus.messages <- bus.Message{
		Channel: event.ChannelStorageUpdate,
		Payload: `{"storage":42,"path":"/docs"}`,
	}
	require.NoError(t, p.finish(t))

	assert.Equal(t, []sent{
		{user: "alice", message: NotificationToken},
		{user: "alice", message: NotificationToken},
		{user: "bob", message: NotificationToken},
	}, p.notifier.all())
}

func TestGroupUpdateSkipsAccessResolver(t *testing.T) {
	resolver := &fakeResolver{}
	p := startPipeline(t, resolver)

	p.bus.messages <- bus.Message{
		Channel: event.ChannelGroupUpdate,
		Payload: `{"user":"alice","group":"staff"}`,
	}
	require.NoError(t, p.finish(t))

	assert.Equal(t, []sent{{user: "alice", message: NotificationToken}}, p.notifier.all())
	assert.Zero(t, resolver.loads)
}

func TestShareCreateNotifiesRecipient(t *testing.T) {
	p := startPipeline(t, &fakeResolver{})

	p.bus.messages <- bus.Message{
		Channel: event.ChannelShareCreate,
		Payload: `{"user":"bob"}`,
	}
	require.NoError(t, p.finish(t))

	assert.Equal(t, []sent{{user: "bob", message: NotificationToken}}, p.notifier.all())
}

func TestPrefixMissNotifiesNobody(t *testing.T) {
	resolver := &fakeResolver{users: map[uint32]map[string][]user.ID{
		42: {"/photos": {"alice"}},
	}}
	p := startPipeline(t, resolver)

	p.bus.messages <- bus.Message{
		Channel: event.ChannelStorageUpdate,
		Payload: `{"storage":42,"path":"/docs/x"}`,
	}
	require.NoError(t, p.finish(t))
	assert.Empty(t, p.notifier.all())
}

func TestTestCookieRoundTrip(t *testing.T) {
	p := startPipeline(t, &fakeResolver{})

	p.bus.messages <- bus.Message{Channel: event.ChannelTestCookie, Payload: "12345"}
	require.NoError(t, p.finish(t))

	assert.Equal(t, uint32(12345), p.d.TestCookie())
	assert.Empty(t, p.notifier.all())
}

func TestDecodeErrorDoesNotAbortStream(t *testing.T) {
	p := startPipeline(t, &fakeResolver{})

	p.bus.messages <- bus.Message{Channel: "bogus_channel", Payload: "???"}
	p.bus.messages <- bus.Message{Channel: event.ChannelShareCreate, Payload: `{"user":"carol"}`}
	require.NoError(t, p.finish(t))

	assert.Equal(t, []sent{{user: "carol", message: NotificationToken}}, p.notifier.all())
}

func TestMappingErrorDropsEventAndContinues(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("db unavailable")}
	p := startPipeline(t, resolver)

	p.bus.messages <- bus.Message{
		Channel: event.ChannelStorageUpdate,
		Payload: `{"storage":42,"path":"/docs"}`,
	}
	p.bus.messages <- bus.Message{
		Channel: event.ChannelGroupUpdate,
		Payload: `{"user":"alice","group":"staff"}`,
	}
	require.NoError(t, p.finish(t))

	assert.Equal(t, []sent{{user: "alice", message: NotificationToken}}, p.notifier.all())
}

func TestEventsAreProcessedInOrder(t *testing.T) {
	p := startPipeline(t, &fakeResolver{})

	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		p.bus.messages <- bus.Message{
			Channel: event.ChannelShareCreate,
			Payload: `{"user":"` + u + `"}`,
		}
	}
	require.NoError(t, p.finish(t))

	got := p.notifier.all()
	require.Len(t, got, 4)
	for i, u := range []user.ID{"u1", "u2", "u3", "u4"} {
		assert.Equal(t, u, got[i].user)
	}
}

func TestStreamEndWithLiveContextIsTerminal(t *testing.T) {
	p := startPipeline(t, &fakeResolver{})
	defer p.cancel()

	// Stream dies while the gateway is still supposed to be running.
	close(p.bus.messages)

	select {
	case err := <-p.done:
		require.EqualError(t, err, "event stream terminated")
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestSubscribeFailureIsTerminal(t *testing.T) {
	b := &fakeBus{err: errors.New("connection refused")}
	d := New(b, &fakeResolver{}, &fakeNotifier{}, metrics.NewForTesting())

	err := d.Run(context.Background())
	require.Error(t, err)
}

func TestSubscribesToAllEventChannels(t *testing.T) {
	p := startPipeline(t, &fakeResolver{})
	require.NoError(t, p.finish(t))
	assert.ElementsMatch(t, event.Channels(), p.bus.channels)
}

func TestCanceledContextIsCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBus{messages: make(chan bus.Message)}
	d := New(b, &fakeResolver{}, &fakeNotifier{}, metrics.NewForTesting())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	close(b.messages)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
