package errors

import (
	"sync"
	"time"
)

// rateLimiter 按堆栈键限制上报频率，silent 时间内同一错误只上报一次
type rateLimiter struct {
	lock   sync.Mutex
	silent time.Duration
	now    func() time.Time
	buffer map[string]*errorStats
}

func newRateLimiter(silent time.Duration) *rateLimiter {
	return &rateLimiter{
		silent: silent,
		now:    time.Now,
		buffer: map[string]*errorStats{},
	}
}

type errorStats struct {
	// 总计的发生次数
	totalOccurCount int
	// 上次报告过后发生的次数
	occurCountSinceLastReport int
	// 最近上报时间，未上报过为 nil
	lastReportTime *time.Time
}

// StackBasedRateLimited 返回是否被限制，以及本次计数前的统计快照
func (b *rateLimiter) StackBasedRateLimited(stack string) (bool, *errorStats) {
	b.lock.Lock()
	defer b.lock.Unlock()
	stats, ok := b.buffer[stack]
	if !ok {
		stats = &errorStats{}
		b.buffer[stack] = stats
	}
	snapshot := *stats
	stats.totalOccurCount++

	now := b.now()
	if stats.lastReportTime != nil && now.Sub(*stats.lastReportTime) < b.silent {
		stats.occurCountSinceLastReport++
		return true, &snapshot
	}
	stats.occurCountSinceLastReport = 0
	stats.lastReportTime = &now
	return false, &snapshot
}
