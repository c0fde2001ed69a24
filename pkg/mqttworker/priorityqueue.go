package mqttworker

import (
	"sync"

	"github.com/cuemby/telemetry-collector/pkg/model"
)

// PublishMessage is one pending outbound MQTT publish, carried through the
// priority queue and (if production mode drops offline) the offline
// buffer.
type PublishMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
	Priority model.Priority
}

// priorityQueue is a strict-priority, FIFO-within-level publish queue
// (§4.6): three ordinary slices, one per priority level, drained
// high-to-low.
type priorityQueue struct {
	mu       sync.Mutex
	levels   [3][]PublishMessage // indexed by model.Priority
	capacity int
}

func newPriorityQueue(capacity int) *priorityQueue {
	return &priorityQueue{capacity: capacity}
}

func (q *priorityQueue) push(msg PublishMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.len() >= q.capacity {
		return false
	}
	q.levels[msg.Priority] = append(q.levels[msg.Priority], msg)
	return true
}

// pop returns the oldest message at the highest non-empty priority level.
func (q *priorityQueue) pop() (PublishMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for level := len(q.levels) - 1; level >= 0; level-- {
		if len(q.levels[level]) == 0 {
			continue
		}
		msg := q.levels[level][0]
		q.levels[level] = q.levels[level][1:]
		return msg, true
	}
	return PublishMessage{}, false
}

func (q *priorityQueue) len() int {
	n := 0
	for _, l := range q.levels {
		n += len(l)
	}
	return n
}

func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}
