package bus

import (
	"reflect"
	"sync"
	"testing"
)

func TestChannel_PublishInRegistrationOrder(t *testing.T) {
	c := NewChannel[int]("t")
	var got []string
	c.Subscribe(func(v int) { got = append(got, "a") })
	c.Subscribe(func(v int) { got = append(got, "b") })
	c.Subscribe(func(v int) { got = append(got, "c") })

	c.Publish(1)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("order=%v", got)
	}
}

func TestChannel_PublishWithoutSubscribersIsNoop(t *testing.T) {
	c := NewChannel[string]("t")
	c.Publish("x")
	if c.Len() != 0 {
		t.Fatalf("len=%d", c.Len())
	}
}

func TestChannel_NilHandlerIgnored(t *testing.T) {
	c := NewChannel[int]("t")
	h := c.Subscribe(nil)
	if c.Len() != 0 {
		t.Fatalf("len=%d want 0", c.Len())
	}
	// Zero handle is inert.
	h.Unsubscribe()
}

func TestChannel_UnsubscribeDuringOwnInvocation(t *testing.T) {
	c := NewChannel[int]("t")
	var calls []string

	var self Handle
	self = c.Subscribe(func(int) {
		calls = append(calls, "self")
		self.Unsubscribe()
	})
	c.Subscribe(func(int) { calls = append(calls, "after") })

	c.Publish(1)
	if !reflect.DeepEqual(calls, []string{"self", "after"}) {
		t.Fatalf("first publish calls=%v", calls)
	}

	calls = nil
	c.Publish(2)
	if !reflect.DeepEqual(calls, []string{"after"}) {
		t.Fatalf("second publish calls=%v", calls)
	}
}

func TestChannel_UnsubscribeOtherDuringPublishStillDeliversCurrent(t *testing.T) {
	c := NewChannel[int]("t")
	var calls []string

	var second Handle
	c.Subscribe(func(int) {
		calls = append(calls, "first")
		second.Unsubscribe()
	})
	second = c.Subscribe(func(int) { calls = append(calls, "second") })

	c.Publish(1)
	if !reflect.DeepEqual(calls, []string{"first", "second"}) {
		t.Fatalf("first publish calls=%v", calls)
	}
	calls = nil
	c.Publish(2)
	if !reflect.DeepEqual(calls, []string{"first"}) {
		t.Fatalf("second publish calls=%v", calls)
	}
}

func TestChannel_SubscribeDuringPublishNotDeliveredUntilNext(t *testing.T) {
	c := NewChannel[int]("t")
	late := 0
	added := false
	c.Subscribe(func(int) {
		if !added {
			added = true
			c.Subscribe(func(int) { late++ })
		}
	})

	c.Publish(1)
	if late != 0 {
		t.Fatalf("late handler called during the publish that added it")
	}
	c.Publish(2)
	if late != 1 {
		t.Fatalf("late=%d want 1", late)
	}
}

func TestChannel_ReentrantPublish(t *testing.T) {
	outer := NewChannel[int]("outer")
	inner := NewChannel[int]("inner")
	var got []int
	inner.Subscribe(func(v int) { got = append(got, v) })
	outer.Subscribe(func(v int) { inner.Publish(v * 10) })

	outer.Publish(4)
	if !reflect.DeepEqual(got, []int{40}) {
		t.Fatalf("got=%v", got)
	}
}

func TestChannel_DoubleUnsubscribe(t *testing.T) {
	c := NewChannel[int]("t")
	h := c.Subscribe(func(int) {})
	c.Subscribe(func(int) {})
	h.Unsubscribe()
	h.Unsubscribe()
	if c.Len() != 1 {
		t.Fatalf("len=%d want 1", c.Len())
	}
}

func TestChannel_ConcurrentPublishAndSubscribe(t *testing.T) {
	c := NewChannel[int]("t")
	var mu sync.Mutex
	total := 0
	c.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Publish(1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h := c.Subscribe(func(int) {})
				h.Unsubscribe()
			}
		}()
	}
	wg.Wait()

	if total != 800 {
		t.Fatalf("total=%d want 800", total)
	}
}

func TestStatusChannel_NoHandlerSentinel(t *testing.T) {
	c := NewStatusChannel[Empty]("t")
	if rc := c.Publish(Empty{}); rc != StatusNoHandler {
		t.Fatalf("rc=%d want %d", rc, StatusNoHandler)
	}
}

func TestStatusChannel_ShortCircuitsOnFirstNonZero(t *testing.T) {
	c := NewStatusChannel[Empty]("t")
	var calls []string
	c.Subscribe(func(Empty) int { calls = append(calls, "ok"); return 0 })
	c.Subscribe(func(Empty) int { calls = append(calls, "fail"); return 7 })
	c.Subscribe(func(Empty) int { calls = append(calls, "never"); return 9 })

	if rc := c.Publish(Empty{}); rc != 7 {
		t.Fatalf("rc=%d want 7", rc)
	}
	if !reflect.DeepEqual(calls, []string{"ok", "fail"}) {
		t.Fatalf("calls=%v", calls)
	}
}

func TestStatusChannel_AllZero(t *testing.T) {
	c := NewStatusChannel[int]("t")
	c.Subscribe(func(int) int { return 0 })
	c.Subscribe(func(int) int { return 0 })
	if rc := c.Publish(3); rc != 0 {
		t.Fatalf("rc=%d want 0", rc)
	}
}

func TestStatusChannel_UnsubscribeLastLeavesSentinel(t *testing.T) {
	c := NewStatusChannel[Empty]("t")
	h := c.Subscribe(func(Empty) int { return 0 })
	h.Unsubscribe()
	if rc := c.Publish(Empty{}); rc != StatusNoHandler {
		t.Fatalf("rc=%d want %d", rc, StatusNoHandler)
	}
}

func TestNew_ChannelsNamed(t *testing.T) {
	b := New()
	if b.GPS.Start.Name() != "gps.start" {
		t.Fatalf("name=%q", b.GPS.Start.Name())
	}
	if b.Upstream.LocationUpdate == nil || b.Geofencing.AddAnswer == nil {
		t.Fatalf("expected channels to be allocated")
	}
}
