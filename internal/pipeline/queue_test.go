package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/deltaindex/pkg/types"
)

func newWork(id string, class types.PriorityClass, seq int) *work {
	return &work{Item: Item{Record: &types.ChunkRecord{ID: id}, Class: class}, seq: seq}
}

func ids(ws []*work) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Record.ID
	}
	return out
}

func TestQueue_PopsByClassThenSeq(t *testing.T) {
	q := newQueue()
	q.push(
		newWork("c", types.ClassUnchanged, 0),
		newWork("b2", types.ClassChangedOther, 3),
		newWork("a", types.ClassChangedEntryPoint, 5),
		newWork("b1", types.ClassChangedOther, 1),
	)
	assert.Equal(t, []string{"a", "b1"}, ids(q.pop(2)))
	assert.Equal(t, []string{"b2", "c"}, ids(q.pop(10)))
	assert.Empty(t, q.pop(1))
}

func TestQueue_SoloItemsDispatchAlone(t *testing.T) {
	q := newQueue()
	solo := newWork("s", types.ClassChangedOther, 2)
	solo.limit = 1
	q.push(newWork("x", types.ClassChangedOther, 1), solo, newWork("y", types.ClassChangedOther, 3))

	assert.Equal(t, []string{"x"}, ids(q.pop(3)), "batch stops before a solo item")
	assert.Equal(t, []string{"s"}, ids(q.pop(3)))
	assert.Equal(t, []string{"y"}, ids(q.pop(3)))
}

func TestQueue_LimitCapsBatch(t *testing.T) {
	q := newQueue()
	var items []*work
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		w := newWork(id, types.ClassChangedOther, i)
		if i < 4 {
			w.limit = 2
		}
		items = append(items, w)
	}
	q.push(items...)

	assert.Equal(t, []string{"a", "b"}, ids(q.pop(8)))
	assert.Equal(t, []string{"c", "d"}, ids(q.pop(8)))
	assert.Equal(t, []string{"e"}, ids(q.pop(8)))
}

func TestQueue_LimitedItemStopsLargerBatch(t *testing.T) {
	q := newQueue()
	limited := newWork("l", types.ClassChangedOther, 3)
	limited.limit = 2
	q.push(newWork("a", types.ClassChangedOther, 1), newWork("b", types.ClassChangedOther, 2), limited)

	assert.Equal(t, []string{"a", "b"}, ids(q.pop(5)), "a third item would exceed the limit")
	assert.Equal(t, []string{"l"}, ids(q.pop(5)))
}

func TestQueue_WaitWakesOnPush(t *testing.T) {
	q := newQueue()
	got := make(chan int, 1)
	go func() { got <- q.wait(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	q.push(newWork("a", types.ClassChangedOther, 0))

	select {
	case n := <-got:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("wait did not wake")
	}
}

func TestQueue_WaitReturnsOnCancel(t *testing.T) {
	q := newQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Zero(t, q.wait(ctx))
}
