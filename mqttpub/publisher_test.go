package mqttpub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func (f *fakePublisher) Connected() bool { return true }
func (f *fakePublisher) Close()          {}

func (f *fakePublisher) calls() ([]string, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...), append([][]byte(nil), f.payloads...)
}

func TestPublishAsyncUsesFixedTopic(t *testing.T) {
	fp := &fakePublisher{}
	PublishAsync(fp, []byte("stk-bytes"), nil)

	require.Eventually(t, func() bool {
		topics, _ := fp.calls()
		return len(topics) == 1
	}, time.Second, time.Millisecond)

	topics, payloads := fp.calls()
	assert.Equal(t, Topic, topics[0])
	assert.Equal(t, []byte("stk-bytes"), payloads[0])
}

func TestPublishAsyncDoesNotBlockOnPublishError(t *testing.T) {
	fp := &fakePublisher{err: assert.AnError}
	start := time.Now()
	PublishAsync(fp, []byte("x"), nil)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
