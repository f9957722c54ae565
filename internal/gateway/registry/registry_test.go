// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-gateway/internal/gateway/callid"
)

const testTimeout = 2 * time.Second

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	r, err := New(cfg, WithClock(clk.Now))
	require.NoError(t, err)
	return r, clk
}

func testID(s string) callid.ID {
	return callid.Derive([]byte(s))
}

func receive(t *testing.T, sub *Subscription) Outcome {
	t.Helper()
	select {
	case o := <-sub.C():
		return o
	case <-time.After(testTimeout):
		t.Fatalf("subscription %s: no delivery within %s", sub.ID(), testTimeout)
		return Outcome{}
	}
}

func assertNoSecondDelivery(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case o := <-sub.C():
		t.Fatalf("subscription %s delivered twice: %+v", sub.ID(), o)
	default:
	}
}

func TestSubscribeThenPublish(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("x")

	sub, err := r.Subscribe(id)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Publish(id, Resolved([]byte("result"))))
	o := receive(t, sub)
	assert.NoError(t, o.Err)
	assert.Equal(t, []byte("result"), o.Output)
	assertNoSecondDelivery(t, sub)
}

func TestPublishThenSubscribe_Immediate(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("x")

	assert.True(t, r.Publish(id, Resolved([]byte("early"))))
	sub, err := r.Subscribe(id)
	require.NoError(t, err)
	o := receive(t, sub)
	assert.Equal(t, []byte("early"), o.Output)
	assert.Equal(t, 1, r.Len())
}

func TestTwoWaitersBeforePublish(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("X")

	var ready sync.WaitGroup
	results := make(chan []byte, 2)
	for i := 0; i < 2; i++ {
		ready.Add(1)
		go func() {
			sub, err := r.Subscribe(id)
			if err != nil {
				results <- nil
				ready.Done()
				return
			}
			ready.Done()
			o := <-sub.C()
			results <- o.Output
		}()
	}
	ready.Wait()

	go r.Publish(id, Resolved([]byte("result")))

	for i := 0; i < 2; i++ {
		select {
		case out := <-results:
			assert.Equal(t, []byte("result"), out)
		case <-time.After(testTimeout):
			t.Fatal("waiter not woken after publish")
		}
	}
}

func TestFirstPublishWins(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("dup")

	past, err := r.Subscribe(id)
	require.NoError(t, err)

	assert.True(t, r.Publish(id, Resolved([]byte("O1"))))
	assert.False(t, r.Publish(id, Resolved([]byte("O2"))))
	assert.False(t, r.Publish(id, Failed(errors.New("late failure"))))

	assert.Equal(t, []byte("O1"), receive(t, past).Output)
	future, err := r.Subscribe(id)
	require.NoError(t, err)
	o := receive(t, future)
	assert.NoError(t, o.Err)
	assert.Equal(t, []byte("O1"), o.Output)
}

func TestPublishFailed(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("fail")
	sub, err := r.Subscribe(id)
	require.NoError(t, err)

	boom := errors.New("agreement failed")
	r.Publish(id, Failed(boom))
	o := receive(t, sub)
	assert.ErrorIs(t, o.Err, boom)
	assert.Nil(t, o.Output)
}

func TestPublishCopiesOutput(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("copy")
	buf := []byte("abc")
	r.Publish(id, Resolved(buf))
	buf[0] = 'z'

	sub, err := r.Subscribe(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), receive(t, sub).Output)
}

func TestCancelDropsSlotOnly(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("cancel")

	gone, err := r.Subscribe(id)
	require.NoError(t, err)
	stay, err := r.Subscribe(id)
	require.NoError(t, err)

	gone.Cancel()
	gone.Cancel()

	assert.True(t, r.Publish(id, Resolved([]byte("v"))))
	assert.Equal(t, []byte("v"), receive(t, stay).Output)
	assertNoSecondDelivery(t, gone)

	// 取消全部等待者后记录仍会在 publish 时终态化
	id2 := testID("cancel-all")
	s, err := r.Subscribe(id2)
	require.NoError(t, err)
	s.Cancel()
	assert.True(t, r.Publish(id2, Resolved([]byte("w"))))
	late, err := r.Subscribe(id2)
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), receive(t, late).Output)
}

func TestCancelAfterDelivery(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("after")
	sub, err := r.Subscribe(id)
	require.NoError(t, err)
	r.Publish(id, Resolved([]byte("v")))
	sub.Cancel()
	assert.Equal(t, []byte("v"), receive(t, sub).Output)
}

func TestWait_ContextCanceled(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("ctx")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 记录仍存在，后续 publish 正常生效
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Publish(id, Resolved([]byte("v"))))
	out, err := r.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), out)
}

func TestWait_Resolved(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	id := testID("wait")
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Publish(id, Resolved([]byte("done")))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	out, err := r.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), out)
}

// TestConcurrentSubscribePublish 任意交错下每个等待者恰好收到一次，且同一 id 的所有等待者看到同一个结果
func TestConcurrentSubscribePublish(t *testing.T) {
	r, _ := newTestRegistry(t, Config{Shards: 4})
	const ids = 50
	const waiters = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[callid.ID]map[string]int)
	)
	all := make([]callid.ID, ids)
	for i := range all {
		all[i] = testID(fmt.Sprintf("id-%d", i))
		seen[all[i]] = make(map[string]int)
	}
	errs := make(chan error, ids*waiters)
	for _, id := range all {
		for w := 0; w < waiters; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sub, err := r.Subscribe(id)
				if err != nil {
					errs <- err
					return
				}
				select {
				case o := <-sub.C():
					mu.Lock()
					seen[id][string(o.Output)]++
					mu.Unlock()
				case <-time.After(testTimeout):
					errs <- fmt.Errorf("%s: waiter hung", id)
					return
				}
				select {
				case <-sub.C():
					errs <- fmt.Errorf("%s: second delivery", id)
				default:
				}
			}()
		}
		for p := 0; p < 2; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				r.Publish(id, Resolved([]byte(fmt.Sprintf("out-%d", p))))
			}(p)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for id, outs := range seen {
		require.Len(t, outs, 1, "id %s observed multiple outcomes: %v", id, outs)
		late, err := r.Subscribe(id)
		require.NoError(t, err)
		o := receive(t, late)
		assert.Equal(t, waiters, outs[string(o.Output)])
	}
	assert.Equal(t, ids, r.Len())
}
