package store

import "sync"

// Topic names the kind of row a change notification concerns. The Query
// Engine's cache invalidator (§4.4.4) subscribes by topic and drops any
// cached rollup keyed on a row of that kind.
type Topic string

const (
	TopicEpic           Topic = "epic"
	TopicUserStory      Topic = "user_story"
	TopicDefect         Topic = "defect"
	TopicTest           Topic = "test"
	TopicEpicDependency Topic = "epic_dependency"
)

// Change is a single write notification, identifying the row that changed.
type Change struct {
	Topic Topic
	ID    string
}

// Notifier is a component-local publish/subscribe hub used for write-
// through cache invalidation (§4.4.4, §4.5 "change notifications"). It is
// not a durable event log: subscribers that are not listening when Publish
// is called simply miss the notification, which is safe here because the
// Query Engine always falls through to a fresh computation on a cache miss.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[Topic][]chan Change
}

// NewNotifier returns a ready-to-use Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[Topic][]chan Change)}
}

// Subscribe returns a channel that receives every Change published for
// topic. The channel is buffered so Publish never blocks on a slow
// subscriber; callers should drain it promptly. Call the returned cancel
// function to unsubscribe.
func (n *Notifier) Subscribe(topic Topic) (ch <-chan Change, cancel func()) {
	c := make(chan Change, 64)

	n.mu.Lock()
	n.subscribers[topic] = append(n.subscribers[topic], c)
	n.mu.Unlock()

	return c, func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		subs := n.subscribers[topic]
		for i, sub := range subs {
			if sub == c {
				n.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				close(c)
				break
			}
		}
	}
}

// Publish notifies every subscriber of topic that id changed. Full
// subscriber channels are skipped rather than blocked on.
func (n *Notifier) Publish(topic Topic, id string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	change := Change{Topic: topic, ID: id}
	for _, ch := range n.subscribers[topic] {
		select {
		case ch <- change:
		default:
		}
	}
}
