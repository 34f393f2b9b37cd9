package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	RealtimeEventCampaignChanged = "campaign-change"
	RealtimeEventDeckChanged     = "deck-change"
	realtimeEventHeartbeat       = "heartbeat"

	defaultRealtimeBuffer = 16
)

// RealtimeMessage notifies a player's open streams that a campaign or deck moved
// to a new version.
type RealtimeMessage struct {
	PlayerID   string    `json:"player_id"`
	EventType  string    `json:"event"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Scope      string    `json:"scope,omitempty"`
	DeckIDs    []string  `json:"deck_ids,omitempty"`
	Version    string    `json:"version,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RealtimePublisher accepts messages for delivery.
type RealtimePublisher interface {
	Publish(message RealtimeMessage)
}

// StreamFilter narrows a subscription. A stream opened on a campaign screen sets
// CampaignID and then only sees that campaign's events.
type StreamFilter struct {
	CampaignID string
}

func (f StreamFilter) admits(message RealtimeMessage) bool {
	return f.CampaignID == "" || f.CampaignID == message.CampaignID
}

type realtimeStream struct {
	filter   StreamFilter
	messages chan RealtimeMessage
	closing  sync.Once
}

// RealtimeDispatcher fans messages out to the streams of one process. A stream
// whose buffer is full misses the message instead of blocking the publisher.
type RealtimeDispatcher struct {
	mu         sync.RWMutex
	byPlayer   map[string]map[*realtimeStream]struct{}
	bufferSize int
	dropped    atomic.Int64
}

// NewRealtimeDispatcher returns a dispatcher with no open streams.
func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		byPlayer:   make(map[string]map[*realtimeStream]struct{}),
		bufferSize: defaultRealtimeBuffer,
	}
}

// Subscribe opens a stream for the player. The stream closes when ctx ends or
// the returned cancel func runs, whichever comes first.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, playerID string, filter StreamFilter) (<-chan RealtimeMessage, func()) {
	if playerID == "" {
		closed := make(chan RealtimeMessage)
		close(closed)
		return closed, func() {}
	}

	opened := &realtimeStream{filter: filter, messages: make(chan RealtimeMessage, d.bufferSize)}
	d.mu.Lock()
	streams, ok := d.byPlayer[playerID]
	if !ok {
		streams = make(map[*realtimeStream]struct{})
		d.byPlayer[playerID] = streams
	}
	streams[opened] = struct{}{}
	d.mu.Unlock()

	cancel := func() { d.close(playerID, opened) }
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return opened.messages, cancel
}

func (d *RealtimeDispatcher) close(playerID string, closing *realtimeStream) {
	closing.closing.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if streams, ok := d.byPlayer[playerID]; ok {
			delete(streams, closing)
			if len(streams) == 0 {
				delete(d.byPlayer, playerID)
			}
		}
		close(closing.messages)
	})
}

// Publish delivers the message to the player's streams that admit it.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.PlayerID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for open := range d.byPlayer[message.PlayerID] {
		if !open.filter.admits(message) {
			continue
		}
		select {
		case open.messages <- message:
		default:
			d.dropped.Add(1)
		}
	}
}

// Subscribers reports how many streams the player has open.
func (d *RealtimeDispatcher) Subscribers(playerID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byPlayer[playerID])
}

// Dropped reports how many deliveries were skipped because a stream was full.
func (d *RealtimeDispatcher) Dropped() int64 {
	return d.dropped.Load()
}
