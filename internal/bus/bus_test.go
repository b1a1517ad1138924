package bus

import (
	"encoding/json"
	"testing"
)

func TestPublishOrderPreserved(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(GroupDragons)
	defer hub.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		hub.PublishLog(1, 2, 3, "line")
	}

	for i := 0; i < 10; i++ {
		select {
		case raw := <-sub.C():
			var rec LogRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if rec.Kind != KindLog || rec.RunID != 1 || rec.RecipeID != 2 || rec.ReduceID != 3 {
				t.Fatalf("unexpected record: %+v", rec)
			}
		default:
			t.Fatalf("message %d missing", i)
		}
	}
}

func TestGroupsAreIsolated(t *testing.T) {
	hub := NewHub(nil)
	updates := hub.Subscribe(GroupUpdates)
	dragons := hub.Subscribe(GroupDragons)
	defer hub.Unsubscribe(updates)
	defer hub.Unsubscribe(dragons)

	hub.PublishNotification("u-1", "Download", ColorSuccess, "done")

	select {
	case raw := <-updates.C():
		var note Notification
		if err := json.Unmarshal(raw, &note); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if note.Kind != KindNotification || note.Color != ColorSuccess {
			t.Fatalf("unexpected notification: %+v", note)
		}
	default:
		t.Fatal("updates subscriber missed notification")
	}

	select {
	case <-dragons.C():
		t.Fatal("dragons subscriber received updates-group message")
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(GroupUpdates)
	defer hub.Unsubscribe(sub)

	// Overfill the buffer; publish must not block.
	for i := 0; i < subscriberBuffer*2; i++ {
		hub.PublishNotification("u", "l", ColorPrimary, "m")
	}

	count := 0
	for {
		select {
		case <-sub.C():
			count++
			continue
		default:
		}
		break
	}
	if count != subscriberBuffer {
		t.Fatalf("buffered %d messages, want %d", count, subscriberBuffer)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(GroupDragons)
	hub.Unsubscribe(sub)

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel not closed")
	}

	// Publishing after unsubscribe must not panic.
	hub.PublishRecipe(1, 2, 3, "running")
	hub.Unsubscribe(sub)
}
