package connection

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPop(t *testing.T) {
	q := NewQueue[int](4)

	for i := 0; i < 3; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	for i := 0; i < 3; i++ {
		val, ok := q.TryPop()
		if !ok || val != i {
			t.Errorf("TryPop() = %d, %v, want %d, true", val, ok, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned true")
	}
}

func TestQueue_GrowsAcrossWrap(t *testing.T) {
	q := NewQueue[int](4)

	// Move head off zero so growth has to unwrap.
	q.Push(-1)
	q.Push(-2)
	q.TryPop()
	q.TryPop()

	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Len != 100 {
		t.Errorf("Len = %d, want 100", stats.Len)
	}
	if stats.Resizes == 0 || stats.Capacity < 100 {
		t.Errorf("Stats() = %+v, want growth to at least 100", stats)
	}

	for i := 0; i < 100; i++ {
		val, ok := q.TryPop()
		if !ok || val != i {
			t.Fatalf("TryPop() = %d, %v, want %d", val, ok, i)
		}
	}
	if stats := q.Stats(); stats.Pushed != 102 || stats.Popped != 102 {
		t.Errorf("Pushed/Popped = %d/%d, want 102/102", stats.Pushed, stats.Popped)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string](1)

	got := make(chan string)
	go func() {
		v, _ := q.Pop()
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Pop() returned %q before Push", v)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("hello")
	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Pop() = %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not wake up")
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue[int](2)
	q.Push(1)
	q.Push(2)
	q.Close()

	if q.Push(3) {
		t.Error("Push() after Close returned true")
	}
	for _, want := range []int{1, 2} {
		if v, ok := q.Pop(); !ok || v != want {
			t.Errorf("Pop() = %d, %v, want %d, true", v, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on closed empty queue returned true")
	}
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := NewQueue[int](1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Pop()
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not wake blocked Pop calls")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[int](2)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	if q.Len() != 4000 {
		t.Errorf("Len() = %d, want 4000", q.Len())
	}
}
