package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSnapshotMiss 表示当前区间缺少所需报价，调用方应跳过本次决策。
	ErrSnapshotMiss = errors.New("market: snapshot miss")
	// ErrDataIntegrity 表示行情数据不连续或不完整，回测不得继续。
	ErrDataIntegrity = errors.New("market: data integrity violated")
)

// IntegrityError 描述加载阶段发现的区间缺失。
type IntegrityError struct {
	Source       string
	Expected     int
	Actual       int
	FirstMissing time.Time
	LastMissing  time.Time
	Reason       string
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("market: %s 数据不完整: 期望 %d 个区间, 实际 %d 个", e.Source, e.Expected, e.Actual)
	if !e.FirstMissing.IsZero() {
		msg += fmt.Sprintf(", 首个缺失 %s, 最后缺失 %s",
			e.FirstMissing.Format(time.DateTime), e.LastMissing.Format(time.DateTime))
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is 使 errors.Is(err, ErrDataIntegrity) 成立。
func (e *IntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// IsMiss 判断错误是否为可跳过的报价缺失。
func IsMiss(err error) bool {
	return errors.Is(err, ErrSnapshotMiss)
}

func missf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrSnapshotMiss}, args...)...)
}
