package asr

import (
	"context"
	"errors"
	"sync"
)

// streamSession 是 Session 的通用实现：Stop 取消识别 goroutine 的 context，
// goroutine 结束时通过 finish 发送一次结果。
type streamSession struct {
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func newStreamSession(ctx context.Context) (*streamSession, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &streamSession{cancel: cancel, done: make(chan error, 1)}, ctx
}

// Stop 实现 Session 接口。
func (s *streamSession) Stop() error {
	s.cancel()
	return nil
}

// Done 实现 Session 接口。
func (s *streamSession) Done() <-chan error {
	return s.done
}

// finish 只生效一次。被 Stop 取消视为正常结束。
func (s *streamSession) finish(err error) {
	s.once.Do(func() {
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		s.done <- err
		close(s.done)
		s.cancel()
	})
}
