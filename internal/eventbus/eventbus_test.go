package eventbus

import "testing"

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe()
	b.Publish("hello")
	select {
	case e := <-sub:
		if e != "hello" {
			t.Fatalf("unexpected event %v", e)
		}
	default:
		t.Fatal("no event received")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish("late")
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()
	b.Publish("ignored")
	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed")
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	defer b.Close()
	_ = b.Subscribe()
	for i := 0; i < subBuffer*2; i++ {
		b.Publish(i)
	}
}

func TestBus_CountsDroppedEvents(t *testing.T) {
	b := New()
	defer b.Close()
	slow := b.Subscribe()
	fast := b.Subscribe()
	for i := 0; i < subBuffer+3; i++ {
		b.Publish(i)
		<-fast
	}
	if got := b.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
	if len(slow) != subBuffer {
		t.Fatalf("slow buffer holds %d events, want %d", len(slow), subBuffer)
	}
}
