package service

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ilphub/ilphub.go/ledger"
)

// Topic published for every transfer the connector relayed a
// fulfillment for, next to the per-ledger-prefix topics.
const TopicFulfilled = "fulfilled"

type Pubsub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan ledger.Transfer
}

func NewPubsub() *Pubsub {
	ps := &Pubsub{}
	ps.subs = make(map[string]map[string]chan ledger.Transfer)
	return ps
}

func (ps *Pubsub) Subscribe(topic string, ch chan ledger.Transfer) (subId string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		ps.subs[topic] = make(map[string]chan ledger.Transfer)
	}
	subId = uuid.NewString()
	ps.subs[topic][subId] = ch
	return subId
}

func (ps *Pubsub) Unsubscribe(id string, topic string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.subs[topic] == nil {
		return
	}
	if ps.subs[topic][id] == nil {
		return
	}
	close(ps.subs[topic][id])
	delete(ps.subs[topic], id)
}

func (ps *Pubsub) Publish(topic string, transfer ledger.Transfer) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.subs[topic] == nil {
		return
	}

	for _, ch := range ps.subs[topic] {
		ch <- transfer
	}
}
