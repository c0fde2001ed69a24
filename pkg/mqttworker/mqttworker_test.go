package mqttworker

import (
	"testing"
	"time"

	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionExtractWithJSONPath(t *testing.T) {
	sub := &Subscription{JSONPath: "reading.value"}
	v, err := sub.Extract([]byte(`{"reading":{"value":42.5,"unit":"C"}}`))
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)
}

func TestSubscriptionExtractMissingPath(t *testing.T) {
	sub := &Subscription{JSONPath: "not.there"}
	_, err := sub.Extract([]byte(`{"reading":{"value":1}}`))
	assert.ErrorIs(t, err, errMissingPath)
}

func TestSubscriptionExtractRootWhenPathEmpty(t *testing.T) {
	sub := &Subscription{}
	v, err := sub.Extract([]byte(`123.4`))
	require.NoError(t, err)
	assert.Equal(t, 123.4, v)
}

func TestPriorityQueuePopsHighestLevelFirst(t *testing.T) {
	q := newPriorityQueue(10)
	require.True(t, q.push(PublishMessage{Topic: "low", Priority: model.PriorityLow}))
	require.True(t, q.push(PublishMessage{Topic: "high", Priority: model.PriorityHigh}))
	require.True(t, q.push(PublishMessage{Topic: "normal", Priority: model.PriorityNormal}))

	first, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "high", first.Topic)

	second, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "normal", second.Topic)

	third, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "low", third.Topic)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestPriorityQueueIsFIFOWithinLevel(t *testing.T) {
	q := newPriorityQueue(10)
	q.push(PublishMessage{Topic: "a", Priority: model.PriorityNormal})
	q.push(PublishMessage{Topic: "b", Priority: model.PriorityNormal})

	first, _ := q.pop()
	second, _ := q.pop()
	assert.Equal(t, "a", first.Topic)
	assert.Equal(t, "b", second.Topic)
}

func TestPriorityQueueRejectsPushAtCapacity(t *testing.T) {
	q := newPriorityQueue(1)
	require.True(t, q.push(PublishMessage{Topic: "a"}))
	assert.False(t, q.push(PublishMessage{Topic: "b"}))
}

func TestCircuitBreakerOpensAtThresholdAndHalfOpensAfterCooldown(t *testing.T) {
	b := newCircuitBreaker(3, 20*time.Millisecond)

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, breakerClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, breakerOpen, b.State())
	assert.False(t, b.Allow())

	require.Eventually(t, func() bool {
		return b.Allow()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, breakerHalfOpen, b.State())
}

func TestCircuitBreakerHalfOpenFailureReopensImmediately(t *testing.T) {
	b := newCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	assert.Equal(t, breakerOpen, b.State())

	require.Eventually(t, func() bool { return b.Allow() }, time.Second, 2*time.Millisecond)
	assert.Equal(t, breakerHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, breakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestCircuitBreakerSuccessClosesAndResetsCount(t *testing.T) {
	b := newCircuitBreaker(2, time.Second)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, breakerClosed, b.State())
}

func TestDedupFilterRejectsRepeatedID(t *testing.T) {
	d := newDedupFilter(10)
	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))
}

func TestDedupFilterEvictsOldestBeyondCapacity(t *testing.T) {
	d := newDedupFilter(2)
	d.Seen("a")
	d.Seen("b")
	d.Seen("c") // evicts "a"
	assert.False(t, d.Seen("a"))
	assert.True(t, d.Seen("b"))
}

func TestDedupFilterEmptyIDNeverDeduped(t *testing.T) {
	d := newDedupFilter(10)
	assert.False(t, d.Seen(""))
	assert.False(t, d.Seen(""))
}
