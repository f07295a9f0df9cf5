package observable

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	values    []int
	errs      []error
	completes int
}

func (r *recorder) observer() Observer[int] {
	return Funcs[int]{
		OnNext:     func(v int) { r.values = append(r.values, v) },
		OnError:    func(err error) { r.errs = append(r.errs, err) },
		OnComplete: func() { r.completes++ },
	}
}

func TestCompleteRunsTeardownOnce(t *testing.T) {
	var emit Observer[int]
	teardowns := 0
	o := New(func(obs Observer[int]) Teardown {
		emit = obs
		return func() { teardowns++ }
	})

	var r recorder
	sub := o.Subscribe(r.observer())

	emit.Next(1)
	emit.Next(2)
	emit.Complete()
	emit.Next(3)
	emit.Error(errors.New("late"))
	sub.Unsubscribe()

	assert.Equal(t, []int{1, 2}, r.values)
	assert.Empty(t, r.errs)
	assert.Equal(t, 1, r.completes)
	assert.Equal(t, 1, teardowns)
}

func TestSynchronousErrorRunsTeardownAfterStart(t *testing.T) {
	teardowns := 0
	o := New(func(obs Observer[int]) Teardown {
		obs.Error(errors.New("setup failed"))
		return func() { teardowns++ }
	})

	var r recorder
	o.Subscribe(r.observer())

	assert.Len(t, r.errs, 1)
	assert.EqualError(t, r.errs[0], "setup failed")
	assert.Equal(t, 1, teardowns)
}

func TestUnsubscribeSilencesObserver(t *testing.T) {
	var emit Observer[int]
	teardowns := 0
	o := New(func(obs Observer[int]) Teardown {
		emit = obs
		return func() { teardowns++ }
	})

	var r recorder
	sub := o.Subscribe(r.observer())
	emit.Next(1)
	sub.Unsubscribe()
	sub.Unsubscribe()
	emit.Next(2)
	emit.Complete()

	assert.Equal(t, []int{1}, r.values)
	assert.Zero(t, r.completes)
	assert.Equal(t, 1, teardowns)
}

func TestUnsubscribeFromNext(t *testing.T) {
	var emit Observer[int]
	o := New(func(obs Observer[int]) Teardown {
		emit = obs
		return nil
	})

	var got []int
	var sub *Subscription
	sub = o.Subscribe(Funcs[int]{OnNext: func(v int) {
		got = append(got, v)
		sub.Unsubscribe()
	}})
	emit.Next(1)
	emit.Next(2)

	assert.Equal(t, []int{1}, got)
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	var emit Observer[int]
	o := New(func(obs Observer[int]) Teardown {
		emit = obs
		return nil
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	values := make(chan int, 2)
	sub := o.Subscribe(Funcs[int]{OnNext: func(v int) {
		if v == 1 {
			close(entered)
			<-release
		}
		values <- v
	}})

	go emit.Next(1)
	<-entered

	unsubscribed := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(unsubscribed)
	}()
	select {
	case <-unsubscribed:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe blocked on a delivery in progress")
	}

	emit.Next(2)
	close(release)

	assert.Equal(t, 1, <-values)
	select {
	case v := <-values:
		t.Fatalf("value %d delivered after Unsubscribe returned", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEachSubscribeRunsProducer(t *testing.T) {
	starts := 0
	o := New(func(obs Observer[int]) Teardown {
		starts++
		obs.Next(starts)
		obs.Complete()
		return nil
	})

	var a, b recorder
	o.Subscribe(a.observer())
	o.Subscribe(b.observer())

	assert.Equal(t, 2, starts)
	assert.Equal(t, []int{1}, a.values)
	assert.Equal(t, []int{2}, b.values)
}
