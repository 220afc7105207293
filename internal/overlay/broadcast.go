package overlay

import (
	"sync"
	"sync/atomic"

	"github.com/sells-group/gridmap/internal/selection"
	"github.com/sells-group/gridmap/internal/viewport"
	"github.com/sells-group/gridmap/pkg/detail"
)

// Message is one output published to subscribers.
type Message struct {
	Type      string               `json:"type"`
	Session   string               `json:"session,omitempty"`
	Aggregate *selection.Aggregate `json:"aggregate,omitempty"`
	Cell      string               `json:"cell,omitempty"`
	Detail    *detail.Record       `json:"detail,omitempty"`
	Ages      []detail.Band        `json:"ages,omitempty"`
	Frame     *viewport.Frame      `json:"frame,omitempty"`
	Period    string               `json:"period,omitempty"`
	Hover     bool                 `json:"hover,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Broadcaster fans messages out to subscribers and implements
// selection.Presenter. Slow subscribers lose messages rather than block
// the publisher.
type Broadcaster struct {
	session string

	mu      sync.Mutex
	subs    map[int]chan Message
	next    int
	dropped atomic.Int64
}

// NewBroadcaster returns a Broadcaster stamping messages with session.
func NewBroadcaster(session string) *Broadcaster {
	return &Broadcaster{session: session, subs: make(map[int]chan Message)}
}

// Subscribe returns a message channel with the given buffer and a function
// that unsubscribes and closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers m to every subscriber without blocking.
func (b *Broadcaster) Publish(m Message) {
	m.Session = b.session

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broadcaster) Aggregate(a selection.Aggregate) {
	b.Publish(Message{Type: MsgAggregate, Aggregate: &a})
}

func (b *Broadcaster) AggregateCleared() {
	b.Publish(Message{Type: MsgAggregateCleared})
}

func (b *Broadcaster) DetailPending(cellID string) {
	b.Publish(Message{Type: MsgDetailPending, Cell: cellID})
}

func (b *Broadcaster) DetailResolved(cellID string, rec *detail.Record) {
	m := Message{Type: MsgDetail, Cell: cellID, Detail: rec}
	if rec != nil {
		m.Ages = rec.AgeBands()
	}
	b.Publish(m)
}

func (b *Broadcaster) DetailFailed(cellID string, err error) {
	b.Publish(Message{Type: MsgDetailFailed, Cell: cellID, Error: err.Error()})
}

func (b *Broadcaster) DetailCleared() {
	b.Publish(Message{Type: MsgDetailCleared})
}
