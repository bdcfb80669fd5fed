// Package activity 有界的活动日志（环形缓冲，新的在前），由调用方持有。
package activity

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	LogCapacity     = 100
	HistoryCapacity = 50
)

// Entry 一条活动记录
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Log 容量满时淘汰最旧的记录
type Log struct {
	mu       sync.RWMutex
	capacity int
	buf      []Entry
	head     int // 下一个写入位置
	size     int

	now func() time.Time
}

// NewLog capacity <= 0 时使用 LogCapacity
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = LogCapacity
	}
	return &Log{capacity: capacity, buf: make([]Entry, capacity), now: time.Now}
}

func (l *Log) Add(msg string) Entry {
	e := Entry{ID: uuid.NewString(), Timestamp: l.now(), Message: msg}
	l.push(e)
	return e
}

func (l *Log) Addf(format string, args ...interface{}) Entry {
	return l.Add(fmt.Sprintf(format, args...))
}

func (l *Log) push(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.head] = e
	l.head = (l.head + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
}

// Entries 新的在前
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		out = append(out, l.buf[(l.head-i+l.capacity)%l.capacity])
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func (l *Log) Cap() int {
	return l.capacity
}

func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = make([]Entry, l.capacity)
	l.head = 0
	l.size = 0
}

// Restore 用快照替换当前内容，entries 新的在前，超出容量的旧记录丢弃
func (l *Log) Restore(entries []Entry) {
	if len(entries) > l.capacity {
		entries = entries[:l.capacity]
	}
	l.Clear()
	for i := len(entries) - 1; i >= 0; i-- {
		l.push(entries[i])
	}
}
