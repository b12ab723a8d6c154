package retry

import (
	"math"
	"time"
)

// Schedule 计算第n次尝试失败后的等待时长（对外导出）
// attempt从1开始：attempt=1表示第一次尝试失败后的首次重试
type Schedule interface {
	Delay(attempt int) time.Duration
}

// Constant 固定间隔
type Constant struct {
	Interval time.Duration
}

// Delay 返回固定间隔
func (c Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// maxDelay 未设置Max时的上限，避免浮点换算溢出
const maxDelay = time.Duration(math.MaxInt64)

// Exponential 指数退避: Base * Factor^(attempt-1)，Max>0时封顶
type Exponential struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Delay 返回 Base * Factor^(attempt-1)
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 2
	}
	limit := maxDelay
	if e.Max > 0 {
		limit = e.Max
	}
	// 先在浮点域封顶再转换，float64(MaxInt64)转换回int64会溢出
	f := float64(e.Base) * math.Pow(factor, float64(attempt-1))
	if math.IsNaN(f) || f >= float64(limit) {
		return limit
	}
	if f < 0 {
		return 0
	}
	return time.Duration(f)
}

// Fixed 按列表给出每次重试的间隔，超出列表长度时使用最后一项
type Fixed []time.Duration

// Delay 返回列表中的间隔
func (f Fixed) Delay(attempt int) time.Duration {
	if len(f) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(f) {
		idx = len(f) - 1
	}
	return f[idx]
}

// ExponentialBackoff 以秒为单位的退避因子: factor * 2^(attempt-1) 秒
// 例如 ExponentialBackoff(10) 依次等待 10s、20s、40s ...
func ExponentialBackoff(backoffFactor float64) Schedule {
	return Exponential{
		Base:   time.Duration(backoffFactor * float64(time.Second)),
		Factor: 2,
	}
}
