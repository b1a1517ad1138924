// Package bus is the in-process live-update channel between background work
// and connected browser clients. Delivery is best-effort: slow subscribers
// drop messages rather than block producers, and there is no replay.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const subscriberBuffer = 64

type Subscriber struct {
	group string
	ch    chan []byte

	mu     sync.Mutex
	closed bool
}

// C yields marshaled message envelopes in publish order.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

func (s *Subscriber) deliver(raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- raw:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs: map[string]map[*Subscriber]struct{}{
			GroupUpdates: {},
			GroupDragons: {},
		},
	}
}

func (h *Hub) Subscribe(group string) *Subscriber {
	sub := &Subscriber{group: group, ch: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[group]; !ok {
		h.subs[group] = map[*Subscriber]struct{}{}
	}
	h.subs[group][sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if group, ok := h.subs[sub.group]; ok {
		delete(group, sub)
	}
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) publish(group string, msg any) {
	raw, err := json.Marshal(msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("bus marshal failed", "group", group, "error", err)
		}
		return
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs[group]))
	for sub := range h.subs[group] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.deliver(raw) && h.logger != nil {
			h.logger.Debug("bus message dropped", "group", group)
		}
	}
}

// PublishNotification sends a one-shot notification to the updates group.
func (h *Hub) PublishNotification(uniqueID, label, color, message string) {
	h.publish(GroupUpdates, Notification{
		Kind:     KindNotification,
		UniqueID: uniqueID,
		Label:    label,
		Color:    color,
		Message:  message,
	})
}

// PublishDownload sends download progress to the updates group. downloaded is
// the raw byte count; nil renders as an empty string.
func (h *Hub) PublishDownload(uniqueID, label, status string, downloaded *int64, message string, done, isErr bool) {
	h.publish(GroupUpdates, DownloadUpdate{
		Kind:            KindDownload,
		UniqueID:        uniqueID,
		Label:           label,
		Status:          status,
		DownloadedBytes: FormatBytes(downloaded),
		Message:         message,
		Done:            done,
		Error:           isErr,
	})
}

// PublishLog forwards one pipeline log line to the dragons group.
func (h *Hub) PublishLog(runID, recipeID, reduceID int64, message string) {
	h.publish(GroupDragons, LogRecord{
		Kind:     KindLog,
		RunID:    runID,
		RecipeID: recipeID,
		ReduceID: reduceID,
		Message:  message,
	})
}

// PublishRecipe forwards a reduction status change to the dragons group.
func (h *Hub) PublishRecipe(runID, recipeID, reduceID int64, status string) {
	h.publish(GroupDragons, RecipeProgress{
		Kind:     KindRecipe,
		RunID:    runID,
		RecipeID: recipeID,
		ReduceID: reduceID,
		Status:   status,
	})
}
