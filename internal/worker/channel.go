// internal/worker/channel.go
package worker

import (
	"errors"
	"sync"

	"logsweep/internal/metrics"
	"logsweep/internal/model"
)

var (
	// ErrChannelClosed: sentinel 을 받기 전에 channel 이 닫힘 (프로토콜 위반, run 전체 실패)
	ErrChannelClosed = errors.New("coordination channel closed before sentinel")

	// ErrSinkStopped: sink 가 비정상 종료되어 더 이상 메시지를 받지 않음
	ErrSinkStopped = errors.New("sink stopped")
)

// Message 는 channel 위를 흐르는 값.
// Sentinel 이 true 이면 Alert 는 의미가 없다.
type Message struct {
	Alert    model.AlertMessage
	Sentinel bool
}

// Channel
//
// 모든 worker(producer) 와 하나의 sink(consumer) 가 공유하는 FIFO.
//   - 용량이 고정된 bounded channel: 가득 차면 Send 가 block 된다 (backpressure)
//   - worker 별 enqueue 순서는 그대로 sink 에 전달된다
//   - sentinel 은 정확히 한 번, 모든 worker 종료 후에만 들어간다
//   - sink 가 죽으면 Abort 로 block 된 producer 를 모두 깨운다
//
// 호출자는 별도의 lock 없이 Send / Receive 만 사용한다.
type Channel struct {
	ch      chan Message
	abort   chan struct{}
	metrics *metrics.Metrics

	abortOnce    sync.Once
	closeOnce    sync.Once
	sentinelOnce sync.Once
}

func NewChannel(capacity int, m *metrics.Metrics) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &Channel{
		ch:      make(chan Message, capacity),
		abort:   make(chan struct{}),
		metrics: m,
	}
}

// Send 는 알림 하나를 넣는다. channel 이 가득 차 있으면 자리가 날 때까지 기다린다.
// sink 가 중단된 경우 ErrSinkStopped.
func (c *Channel) Send(a model.AlertMessage) error {
	return c.send(Message{Alert: a})
}

// SendSentinel 은 종료 신호를 넣는다. 두 번째 호출부터는 아무 일도 하지 않는다.
func (c *Channel) SendSentinel() (err error) {
	c.sentinelOnce.Do(func() {
		err = c.send(Message{Sentinel: true})
	})
	return err
}

func (c *Channel) send(msg Message) error {
	// abort 이후에는 자리가 있어도 넣지 않는다
	select {
	case <-c.abort:
		return ErrSinkStopped
	default:
	}

	select {
	case c.ch <- msg:
		c.metrics.ObserveChannelDepth(len(c.ch))
		return nil
	case <-c.abort:
		return ErrSinkStopped
	}
}

// Receive 는 다음 메시지를 꺼낸다. 비어 있으면 block.
// sentinel 없이 channel 이 닫혔다면 ErrChannelClosed.
func (c *Channel) Receive() (Message, error) {
	msg, ok := <-c.ch
	if !ok {
		return Message{}, ErrChannelClosed
	}
	return msg, nil
}

// Abort 는 sink 쪽에서 호출한다. 대기 중인 모든 Send 가 ErrSinkStopped 로 풀린다.
func (c *Channel) Abort() {
	c.abortOnce.Do(func() { close(c.abort) })
}

// Close 는 더 이상 Send 가 없다는 것이 보장된 뒤에만 호출한다.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.ch) })
}

// Len 은 아직 소비되지 않은 메시지 수.
func (c *Channel) Len() int { return len(c.ch) }

// Cap 은 channel 용량.
func (c *Channel) Cap() int { return cap(c.ch) }
