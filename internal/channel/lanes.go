package channel

import "sync"

// lanes 按 key 串行执行回调：同一 key 的回调保持到达顺序，不同 key 互不阻塞。
// 每个 key 在有待执行回调时占用一个 goroutine，队列清空后退出。
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

func (l *lanes) do(key string, fn func()) {
	l.mu.Lock()
	queue, running := l.queues[key]
	l.queues[key] = append(queue, fn)
	l.mu.Unlock()
	if !running {
		go l.drain(key)
	}
}

func (l *lanes) drain(key string) {
	for {
		l.mu.Lock()
		queue := l.queues[key]
		if len(queue) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := queue[0]
		queue[0] = nil
		l.queues[key] = queue[1:]
		l.mu.Unlock()
		fn()
	}
}
