package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

type countingProcessor struct {
	kind  types.StreamKind
	delay time.Duration
	calls chan struct{}
	fail  bool
}

func (c *countingProcessor) Kind() types.StreamKind { return c.kind }

func (c *countingProcessor) Process(ctx context.Context, frame types.RawFrame, params any) (any, Dimensions, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, Dimensions{}, ctx.Err()
		}
	}
	if c.calls != nil {
		c.calls <- struct{}{}
	}
	if c.fail {
		return nil, Dimensions{}, errors.New("boom")
	}
	return "artifact", Dimensions{Width: 1, Height: 1}, nil
}

func TestProcessingWorkerBasicRoundTrip(t *testing.T) {
	proc := &countingProcessor{kind: types.KindIR}
	w := New(proc, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	w.Submit(Job{Frame: types.RawFrame{Kind: types.KindIR}, Seq: 1})

	select {
	case res := <-w.Results():
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Frame.Seq != 1 {
			t.Fatalf("Seq = %d, want 1", res.Frame.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestProcessingWorkerMailboxOverwrite(t *testing.T) {
	calls := make(chan struct{}, 8)
	proc := &countingProcessor{kind: types.KindDepth, delay: 50 * time.Millisecond, calls: calls}
	w := New(proc, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	w.Submit(Job{Seq: 1})
	time.Sleep(5 * time.Millisecond) // let the worker pick up job 1 before we submit more
	w.Submit(Job{Seq: 2})
	dropped := w.Submit(Job{Seq: 3})
	if !dropped {
		t.Fatal("expected Submit to report a drop when overwriting an unconsumed job")
	}

	<-calls // job 1 processed
	<-calls // job 3 processed (job 2 was overwritten)

	stats := w.Stats()
	if stats.MailboxDropped == 0 {
		t.Fatalf("MailboxDropped = %d, want > 0", stats.MailboxDropped)
	}
}

func TestProcessingWorkerPropagatesError(t *testing.T) {
	proc := &countingProcessor{kind: types.KindColor, fail: true}
	w := New(proc, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	w.Submit(Job{Seq: 1})

	select {
	case res := <-w.Results():
		if res.Err == nil {
			t.Fatal("expected an error result")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestProcessingWorkerStatsTrackBusyBeforeFirstCompletion(t *testing.T) {
	calls := make(chan struct{})
	proc := &countingProcessor{kind: types.KindDepth, delay: 200 * time.Millisecond, calls: calls}
	w := New(proc, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	w.Submit(Job{Seq: 1})

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := w.Stats()
		if stats.Busy {
			if stats.LastActivityMS != 0 {
				t.Fatal("LastActivityMS should still be 0 before the first job completes")
			}
			if stats.JobStartedMS == 0 {
				t.Fatal("JobStartedMS should be set while a job is in flight")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for Stats to report Busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	<-calls // let the in-flight job finish before Stop

	deadline = time.Now().Add(2 * time.Second)
	for w.Stats().Busy {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for Busy to clear after completion")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProcessingWorkerStopIsIdempotent(t *testing.T) {
	proc := &countingProcessor{kind: types.KindBody}
	w := New(proc, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Stop()
	w.Stop() // must not hang or panic

	if w.Stats().Alive {
		t.Fatal("Alive = true after Stop")
	}
}
