package framesync

import (
	"testing"

	"github.com/zachshallbetter/Kinect-Node/internal/types"
)

func mustNew(t *testing.T, cfg Config) *MultiSourceSynchronizer {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSynchronizerRequiresAtLeastOneKind(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error when no required kinds are configured")
	}
}

func TestSynchronizerEmitsWithinWindow(t *testing.T) {
	s := mustNew(t, Config{
		RequiredKinds: []types.StreamKind{types.KindDepth, types.KindColor},
		SyncWindowMS:  20,
		DropAfterMS:   500,
	})

	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 100})
	s.Push(types.RawFrame{Kind: types.KindColor, CapturedAtMS: 110})

	select {
	case bundle := <-s.Bundles():
		if bundle.MaxDelayMS != 10 {
			t.Fatalf("MaxDelayMS = %d, want 10", bundle.MaxDelayMS)
		}
		if len(bundle.Frames) != 2 {
			t.Fatalf("len(Frames) = %d, want 2", len(bundle.Frames))
		}
	default:
		t.Fatal("expected a bundle to be emitted immediately")
	}

	if s.Stats().Synced != 1 {
		t.Fatalf("Synced = %d, want 1", s.Stats().Synced)
	}
}

func TestSynchronizerWaitsOutsideWindowUntilDropAfter(t *testing.T) {
	s := mustNew(t, Config{
		RequiredKinds: []types.StreamKind{types.KindDepth, types.KindColor},
		SyncWindowMS:  10,
		DropAfterMS:   1000,
	})

	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 0})
	s.Push(types.RawFrame{Kind: types.KindColor, CapturedAtMS: 100})

	select {
	case <-s.Bundles():
		t.Fatal("no bundle should be emitted while the spread exceeds sync_window and is within drop_after")
	default:
	}

	if s.Stats().Synced != 0 || s.Stats().Dropped != 0 {
		t.Fatalf("stats = %+v, want zero synced/dropped while waiting", s.Stats())
	}
}

func TestSynchronizerDropsAfterHorizon(t *testing.T) {
	s := mustNew(t, Config{
		RequiredKinds: []types.StreamKind{types.KindDepth, types.KindColor},
		SyncWindowMS:  10,
		DropAfterMS:   50,
	})

	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 0})
	s.Push(types.RawFrame{Kind: types.KindColor, CapturedAtMS: 100}) // spread 100 > drop_after 50

	if s.Stats().Dropped == 0 {
		t.Fatal("expected the stale depth frame to be dropped")
	}

	select {
	case <-s.Bundles():
		t.Fatal("no bundle should be emitted once a required kind's only frame was dropped")
	default:
	}
}

func TestSynchronizerBufferOverflow(t *testing.T) {
	s := mustNew(t, Config{
		RequiredKinds: []types.StreamKind{types.KindDepth, types.KindColor},
		BufferSize:    2,
		SyncWindowMS:  1,
		DropAfterMS:   10000,
	})

	// Color is required but never pushed, so nothing ever matches and depth
	// frames accumulate until BufferSize forces an overflow.
	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 0})
	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 0})
	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 0})

	if s.Stats().BufferOverflow == 0 {
		t.Fatal("expected a buffer overflow once BufferSize was exceeded")
	}
}

func TestSynchronizerIgnoresUnrequiredKind(t *testing.T) {
	s := mustNew(t, Config{RequiredKinds: []types.StreamKind{types.KindDepth}})
	s.Push(types.RawFrame{Kind: types.KindColor, CapturedAtMS: 0})

	select {
	case <-s.Bundles():
		t.Fatal("a frame of an unrequired kind must never produce a bundle")
	default:
	}
}

func TestSynchronizerEmitsTraceID(t *testing.T) {
	s := mustNew(t, Config{RequiredKinds: []types.StreamKind{types.KindDepth}})
	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 0})

	select {
	case bundle := <-s.Bundles():
		if bundle.TraceID == "" {
			t.Fatal("expected a non-empty TraceID")
		}
	default:
		t.Fatal("expected a bundle")
	}
}

func TestSetSyncWindowMSRejectsNonPositive(t *testing.T) {
	s := mustNew(t, Config{RequiredKinds: []types.StreamKind{types.KindDepth, types.KindColor}, SyncWindowMS: 20})
	if err := s.SetSyncWindowMS(0); err == nil {
		t.Fatal("expected an error for a non-positive sync window")
	}
	if err := s.SetSyncWindowMS(100); err != nil {
		t.Fatalf("SetSyncWindowMS: %v", err)
	}

	// Frames 50ms apart are outside the original 20ms window but inside the
	// widened 100ms one.
	s.Push(types.RawFrame{Kind: types.KindDepth, CapturedAtMS: 0})
	s.Push(types.RawFrame{Kind: types.KindColor, CapturedAtMS: 50})
	select {
	case <-s.Bundles():
	default:
		t.Fatal("expected a bundle with the widened sync window")
	}
}
