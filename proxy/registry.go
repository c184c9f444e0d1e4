package proxy

import (
	"sync"

	"market-proxy-go/feed"
)

// subRecord 客户端对单个 instrument 的一条订阅。
type subRecord struct {
	Symbol     string
	Exchange   string
	Mode       feed.Mode
	Depth      int
	IsFallback bool
}

// SubscriptionRegistry 维护 client<->topic 双向索引：正向用于断连清理，
// 反向用于扇出。所有访问都经过互斥锁，扇出侧拿到的是快照。
type SubscriptionRegistry struct {
	mu           sync.RWMutex
	clientTopics map[*Client]map[string]subRecord
	topicClients map[string]map[*Client]struct{}
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		clientTopics: make(map[*Client]map[string]subRecord),
		topicClients: make(map[string]map[*Client]struct{}),
	}
}

// Add 登记一条订阅。重复订阅幂等。
func (r *SubscriptionRegistry) Add(c *Client, topic string, rec subRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clientTopics[c] == nil {
		r.clientTopics[c] = make(map[string]subRecord)
	}
	r.clientTopics[c][topic] = rec
	if r.topicClients[topic] == nil {
		r.topicClients[topic] = make(map[*Client]struct{})
	}
	r.topicClients[topic][c] = struct{}{}
}

// Get 返回客户端在某主题上已登记的订阅。
func (r *SubscriptionRegistry) Get(c *Client, topic string) (subRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clientTopics[c][topic]
	return rec, ok
}

// Remove 摘除一条订阅；返回该客户端是否确实持有它。
func (r *SubscriptionRegistry) Remove(c *Client, topic string) (subRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clientTopics[c][topic]
	if !ok {
		return subRecord{}, false
	}
	delete(r.clientTopics[c], topic)
	if len(r.clientTopics[c]) == 0 {
		delete(r.clientTopics, c)
	}
	delete(r.topicClients[topic], c)
	if len(r.topicClients[topic]) == 0 {
		delete(r.topicClients, topic)
	}
	return rec, true
}

// RemoveClient 摘除客户端全部订阅并返回明细，供断连时逐条回收上游订阅。
func (r *SubscriptionRegistry) RemoveClient(c *Client) map[string]subRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.clientTopics[c]
	delete(r.clientTopics, c)
	for topic := range records {
		delete(r.topicClients[topic], c)
		if len(r.topicClients[topic]) == 0 {
			delete(r.topicClients, topic)
		}
	}
	return records
}

// Clients 返回某主题订阅者的快照。
func (r *SubscriptionRegistry) Clients(topic string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.topicClients[topic]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Count 返回客户端当前持有的订阅数。
func (r *SubscriptionRegistry) Count(c *Client) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clientTopics[c])
}

// Topics 返回客户端订阅主题的快照。
func (r *SubscriptionRegistry) Topics(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clientTopics[c]))
	for topic := range r.clientTopics[c] {
		out = append(out, topic)
	}
	return out
}
