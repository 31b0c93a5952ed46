package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/posts"
)

const (
	realtimeTopicAllPosts     = "posts"
	realtimeTopicAuthorPrefix = "author:"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeSourceBackend     = "quill-backend"
	realtimeHeartbeatPeriod   = 25 * time.Second
)

// RealtimeMessage is a post change fanned out to feed subscribers.
type RealtimeMessage struct {
	EventType string
	PostID    string
	AuthorID  string
	Likes     int
	Timestamp time.Time
}

// RealtimeDispatcher fans post events out to subscribers of a topic. Slow subscribers drop messages.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// AuthorTopic names the topic carrying events for posts written by authorID.
func AuthorTopic(authorID string) string {
	return realtimeTopicAuthorPrefix + authorID
}

// Subscribe registers a subscriber on topic until ctx ends or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, topic string) (<-chan RealtimeMessage, func()) {
	if topic == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(topic, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(topic, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishPostEvent delivers a post event to the global feed and to the author's topic.
func (d *RealtimeDispatcher) PublishPostEvent(event posts.Event) {
	message := RealtimeMessage{
		EventType: string(event.Type),
		PostID:    event.PostID,
		AuthorID:  event.AuthorID,
		Likes:     event.Likes,
		Timestamp: event.Timestamp,
	}
	d.Publish(realtimeTopicAllPosts, message)
	if event.AuthorID != "" {
		d.Publish(AuthorTopic(event.AuthorID), message)
	}
}

func (d *RealtimeDispatcher) Publish(topic string, message RealtimeMessage) {
	if topic == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) subscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(topic string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[topic][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
