package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryDeliversToEverySubscriber(t *testing.T) {
	b := NewMemory()
	var got []string
	b.Subscribe(func(ctx context.Context, m Message) error {
		got = append(got, "a:"+m.Topic)
		return nil
	}, "t1", "t2")
	b.Subscribe(func(ctx context.Context, m Message) error {
		got = append(got, "b:"+m.Topic)
		return nil
	}, "t1")

	if err := b.Publish(context.Background(), "t1", "k", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(context.Background(), "t2", "k", nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"a:t1", "b:t1", "a:t2"}
	if len(got) != len(want) {
		t.Fatalf("deliveries %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("deliveries %v, want %v", got, want)
		}
	}
}

func TestMemoryUnknownTopicIsSilent(t *testing.T) {
	b := NewMemory()
	if err := b.Publish(context.Background(), "nobody.listens", "k", nil); err != nil {
		t.Fatal(err)
	}
}

func TestPoolSerializesPerKey(t *testing.T) {
	const perKey = 50
	keys := []string{"ride-a", "ride-b", "ride-c", "ride-d"}

	var mu sync.Mutex
	seen := make(map[string][]int)
	pool := NewPool(4, 16, func(ctx context.Context, m Message) error {
		mu.Lock()
		defer mu.Unlock()
		var seq int
		fmt.Sscanf(string(m.Value), "%d", &seq)
		seen[m.Key] = append(seen[m.Key], seq)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			for i := 0; i < perKey; i++ {
				_ = pool.Dispatch(context.Background(), Message{
					Topic: "t", Key: k, Value: []byte(fmt.Sprintf("%d", i)),
				})
			}
		}(k)
	}
	wg.Wait()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not drain after cancel")
	}

	for _, k := range keys {
		seqs := seen[k]
		if len(seqs) != perKey {
			t.Fatalf("key %s: %d messages processed, want %d", k, len(seqs), perKey)
		}
		for i, s := range seqs {
			if s != i {
				t.Fatalf("key %s processed out of order at %d: %v", k, i, seqs[:i+1])
			}
		}
	}
}

func TestPoolShardIsStable(t *testing.T) {
	pool := NewPool(8, 1, nil)
	for _, k := range []string{"", "ride-1", "driver-42"} {
		a, b := pool.shard(k), pool.shard(k)
		if a != b {
			t.Fatalf("shard for %q not stable: %d vs %d", k, a, b)
		}
		if a < 0 || a >= 8 {
			t.Fatalf("shard for %q out of range: %d", k, a)
		}
	}
}

func TestDispatchHonorsCancelledContext(t *testing.T) {
	pool := NewPool(1, 0, func(ctx context.Context, m Message) error { return nil })
	// no Run: the unbuffered queue never drains
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Dispatch(ctx, Message{Key: "k"}); err == nil {
		t.Fatal("expected context error when the queue is stuck")
	}
}
