package broker

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/meetupchat/internal/testutil"
)

type delivery struct {
	destination    string
	subscriptionID string
	messageID      string
	payload        string
}

// fakeSubscriber records deliveries up to capacity, then refuses
type fakeSubscriber struct {
	id       string
	capacity int

	mu        sync.Mutex
	delivered []delivery
}

func newFakeSubscriber(id string, capacity int) *fakeSubscriber {
	return &fakeSubscriber{id: id, capacity: capacity}
}

func (f *fakeSubscriber) ConnectionID() string { return f.id }

func (f *fakeSubscriber) Deliver(destination, subscriptionID, messageID string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.delivered) >= f.capacity {
		return false
	}
	f.delivered = append(f.delivered, delivery{destination, subscriptionID, messageID, string(payload)})
	return true
}

func (f *fakeSubscriber) received() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.delivered...)
}

func newTestBroker(t *testing.T, buffer int) *Broker {
	t.Helper()
	b := New(buffer, testutil.CreateTestLogger(t))
	t.Cleanup(b.Stop)
	return b
}

func TestSubscribe_Validation(t *testing.T) {
	b := newTestBroker(t, 8)
	sub := newFakeSubscriber("c1", 10)

	assert.ErrorIs(t, b.Subscribe("", "s1", sub), ErrInvalidSubscription)
	assert.ErrorIs(t, b.Subscribe("/sub/chat/1", "", sub), ErrInvalidSubscription)
	assert.ErrorIs(t, b.Subscribe("/sub/chat/1", "s1", nil), ErrInvalidSubscription)

	require.NoError(t, b.Subscribe("/sub/chat/1", "s1", sub))
	assert.ErrorIs(t, b.Subscribe("/sub/chat/2", "s1", sub), ErrDuplicateSubscription)
}

func TestPublish_OnlyTopicSubscribers(t *testing.T) {
	b := newTestBroker(t, 8)
	a := newFakeSubscriber("a", 10)
	c := newFakeSubscriber("c", 10)
	other := newFakeSubscriber("o", 10)

	require.NoError(t, b.Subscribe("/sub/chat/1", "sub-a", a))
	require.NoError(t, b.Subscribe("/sub/chat/1", "sub-c", c))
	require.NoError(t, b.Subscribe("/sub/chat/2", "sub-o", other))

	delivered, dropped := b.Publish("/sub/chat/1", "7", []byte(`{"messageId":7}`))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 0, dropped)

	require.Len(t, a.received(), 1)
	assert.Equal(t, delivery{"/sub/chat/1", "sub-a", "7", `{"messageId":7}`}, a.received()[0])
	assert.Equal(t, "sub-c", c.received()[0].subscriptionID)
	assert.Empty(t, other.received())
}

func TestPublish_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := newTestBroker(t, 8)
	slow := newFakeSubscriber("slow", 0)
	fast := newFakeSubscriber("fast", 10)
	require.NoError(t, b.Subscribe("/sub/chat/1", "s", slow))
	require.NoError(t, b.Subscribe("/sub/chat/1", "f", fast))

	delivered, dropped := b.Publish("/sub/chat/1", "1", []byte("x"))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, dropped)
	assert.Len(t, fast.received(), 1)
}

func TestUnsubscribeAndRemove(t *testing.T) {
	b := newTestBroker(t, 8)
	sub := newFakeSubscriber("c1", 10)
	require.NoError(t, b.Subscribe("/sub/chat/1", "s1", sub))
	require.NoError(t, b.Subscribe("/sub/chat/2", "s2", sub))
	require.NoError(t, b.Subscribe("/sub/chat/3", "s3", sub))

	assert.True(t, b.Unsubscribe("c1", "s1"))
	assert.False(t, b.Unsubscribe("c1", "s1"))
	assert.False(t, b.Unsubscribe("nobody", "s2"))
	assert.Equal(t, 0, b.SubscriberCount("/sub/chat/1"))

	// A released id can be reused.
	require.NoError(t, b.Subscribe("/sub/chat/4", "s1", sub))

	assert.Equal(t, 3, b.Remove("c1"))
	assert.Empty(t, b.Topics())
	assert.Equal(t, 0, b.Remove("c1"))

	delivered, _ := b.Publish("/sub/chat/2", "1", []byte("x"))
	assert.Equal(t, 0, delivered)
}

func TestTopics(t *testing.T) {
	b := newTestBroker(t, 8)
	require.NoError(t, b.Subscribe("/sub/chat/1", "s", newFakeSubscriber("a", 1)))
	require.NoError(t, b.Subscribe("/sub/chat/2", "s", newFakeSubscriber("b", 1)))

	topics := b.Topics()
	sort.Strings(topics)
	assert.Equal(t, []string{"/sub/chat/1", "/sub/chat/2"}, topics)
}

func TestDispatcher_PublishesInEmissionOrder(t *testing.T) {
	b := newTestBroker(t, 64)
	sub := newFakeSubscriber("c1", 100)
	require.NoError(t, b.Subscribe("/sub/chat/1", "s1", sub))
	b.Start()
	b.Start()

	for i := 1; i <= 20; i++ {
		require.True(t, b.Emit(Event{Topic: "/sub/chat/1", MessageID: fmt.Sprint(i), Payload: []byte("p")}))
	}

	testutil.Eventually(t, 2*time.Second, func() bool { return len(sub.received()) == 20 })
	for i, d := range sub.received() {
		assert.Equal(t, fmt.Sprint(i+1), d.messageID)
	}
}

func TestEmit_NeverBlocks(t *testing.T) {
	b := newTestBroker(t, 2)

	// Dispatcher not started: the queue fills and further events are dropped.
	assert.True(t, b.Emit(Event{Topic: "t", MessageID: "1"}))
	assert.True(t, b.Emit(Event{Topic: "t", MessageID: "2"}))

	done := make(chan bool)
	go func() { done <- b.Emit(Event{Topic: "t", MessageID: "3"}) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
}

func TestStop_DrainsQueuedEventsAndRejectsNewOnes(t *testing.T) {
	b := New(16, testutil.CreateTestLogger(t))
	sub := newFakeSubscriber("c1", 100)
	require.NoError(t, b.Subscribe("t", "s1", sub))

	for i := 0; i < 5; i++ {
		require.True(t, b.Emit(Event{Topic: "t", MessageID: fmt.Sprint(i)}))
	}
	b.Start()
	b.Stop()
	b.Stop()

	assert.Len(t, sub.received(), 5)
	assert.False(t, b.Emit(Event{Topic: "t", MessageID: "late"}))
}

func TestStartStop_NoGoroutineLeak(t *testing.T) {
	logger := testutil.CreateTestLogger(t)
	before := testutil.MeasureGoroutines()
	for i := 0; i < 10; i++ {
		b := New(4, logger)
		b.Start()
		b.Stop()
	}
	testutil.AssertGoroutineCount(t, before, testutil.MeasureGoroutines(), "broker start/stop")
}

func TestConcurrentSubscribePublish(t *testing.T) {
	b := newTestBroker(t, 8)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sub := newFakeSubscriber(fmt.Sprintf("c%d", i), 100)
			_ = b.Subscribe("/sub/chat/1", "s", sub)
			b.Remove(sub.id)
		}(i)
		go func() {
			defer wg.Done()
			b.Publish("/sub/chat/1", "1", []byte("x"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.SubscriberCount("/sub/chat/1"))
}

func TestRoomTopic(t *testing.T) {
	assert.Equal(t, "/sub/chat/42", RoomTopic(42))
}
