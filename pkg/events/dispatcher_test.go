package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialsift/trialsift-engine/pkg/models"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	defer d.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	d.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.EventName())
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	d.Publish(DecisionMade{ProjectWorkID: uuid.New()})
	d.Publish(ConflictCreated{ProjectWorkID: uuid.New()})
	d.Publish(PhaseAdvanced{ProjectWorkID: uuid.New()})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"screening.decision_made", "screening.conflict_created", "screening.phase_advanced"}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i])
		}
	}
}

func TestDispatcher_FansOutToAllSubscribers(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	defer d.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		var once sync.Once
		d.Subscribe(func(_ Event) {
			once.Do(wg.Done)
		})
	}

	d.Publish(PhaseBatchAdvanced{
		ProjectID: uuid.New(),
		FromPhase: models.PhaseTitleAbstract,
		ToPhase:   models.PhaseFullText,
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all subscribers saw the event")
	}
}

func TestDispatcher_DrainsOnClose(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	var mu sync.Mutex
	var count int
	d.Subscribe(func(_ Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		d.Publish(DecisionMade{ProjectWorkID: uuid.New()})
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("expected all 10 buffered events delivered before close, got %d", count)
	}
}

func TestDispatcher_PublishAfterCloseIsSafe(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	d.Close()

	// Must not panic or block.
	d.Publish(DecisionMade{ProjectWorkID: uuid.New()})
	d.Close()
}
