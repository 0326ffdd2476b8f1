package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoop_PostRunsInOrder(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		l.Post(func() { got = append(got, i) })
	}
	if n := l.RunPending(); n != 5 {
		t.Errorf("RunPending() = %d, want 5", n)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestLoop_DeferRunsAfterQueuedTasks(t *testing.T) {
	l := New()
	var got []string
	l.Defer(func() { got = append(got, "frame") })
	l.Post(func() {
		got = append(got, "task1")
		l.Post(func() { got = append(got, "task3") })
	})
	l.Post(func() { got = append(got, "task2") })
	l.RunPending()

	want := []string{"task1", "task2", "task3", "frame"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestLoop_DeferFromFrameRunsNextFrame(t *testing.T) {
	l := New()
	var got []string
	l.Defer(func() {
		got = append(got, "frame1")
		l.Defer(func() { got = append(got, "frame2") })
		l.Post(func() { got = append(got, "task") })
	})
	l.RunPending()

	want := []string{"frame1", "task", "frame2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.RunPending()

	if !ran {
		t.Error("task after panic did not run")
	}
	if s := l.Stats(); s.Panicked != 1 || s.Executed != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLoop_RunAndDo(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 100; i++ {
		l.Post(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	doCtx, doCancel := context.WithTimeout(ctx, time.Second)
	defer doCancel()
	if err := l.Do(doCtx, func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	mu.Lock()
	if count != 100 {
		t.Errorf("count = %d, want 100", count)
	}
	mu.Unlock()

	l.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil after Close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestLoop_RunTwice(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !l.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := l.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
	cancel()
}

func TestLoop_ClosedDropsWork(t *testing.T) {
	l := New()
	l.Close()
	l.Close()

	ran := false
	l.Post(func() { ran = true })
	l.RunPending()
	if ran {
		t.Error("task ran on closed loop")
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do() = %v, want ErrClosed", err)
	}
}
