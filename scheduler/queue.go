package scheduler

import (
	"container/heap"
	"sync"

	"github.com/BaSui01/socialflow/types"
)

// queueItem 队列元素，seq 保证同优先级任务按入队顺序出队。
type queueItem struct {
	task *types.Task
	seq  uint64
}

// taskHeap 按优先级降序排列，优先级相同时按入队序号升序。
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// =============================================================================
// 📥 有界优先级队列
// =============================================================================

// priorityQueue 有界阻塞优先级队列。
type priorityQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    taskHeap
	capacity int
	seq      uint64
	closed   bool
}

func newPriorityQueue(capacity int) *priorityQueue {
	q := &priorityQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// TryPush 尝试入队，队列已满或关闭时返回 false。
func (q *priorityQueue) TryPush(task *types.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) >= q.capacity {
		return false
	}

	q.seq++
	heap.Push(&q.items, &queueItem{task: task, seq: q.seq})
	q.notEmpty.Signal()
	return true
}

// Pop 阻塞直到有任务可取或队列关闭。队列关闭且取空后返回 nil。
func (q *priorityQueue) Pop() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	if len(q.items) == 0 {
		return nil
	}

	item := heap.Pop(&q.items).(*queueItem)
	return item.task
}

// Len 返回当前队列深度。
func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭队列并唤醒所有等待者。
func (q *priorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}
