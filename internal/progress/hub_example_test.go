package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit totals fetched bytes across a session.
func ExampleHub_Emit() {
	var bytes int64
	hub := NewHub(Config{
		Session:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		MaxBatchEvents: 1,
	}, sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			bytes += evt.Bytes
		}
		return nil
	}))

	hub.Begin()
	hub.Emit(Event{Stage: StageTaskDone, Domain: "example.com", Outcome: "success", Bytes: 512, Dur: time.Millisecond})
	hub.Emit(Event{Stage: StageTaskDone, Domain: "example.com", Outcome: "success", Bytes: 256, Dur: time.Millisecond})
	hub.End(nil)
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("bytes fetched: %d\n", bytes)
	// Output:
	// bytes fetched: 768
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
