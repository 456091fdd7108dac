// Package control 信号驱动的控制面
//
//	SIGINT / SIGTERM  RUNNING -> DRAINING
//	SIGUSR1           立即 compaction，状态不变
//	SIGUSR2           重新加载排除列表，状态不变
//
// Go 运行时的信号处理只把信号放进 channel；主循环每轮调用 Observe 取出并处理，
// 真正的 I/O 都在主循环里同步执行。
package control

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Stopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Actions 本轮需要主循环执行的动作
type Actions struct {
	Compact bool
	Reload  bool
	// Signals 本轮收到的信号，用于日志
	Signals []os.Signal
}

// Plane 控制面状态机
type Plane struct {
	sigCh   chan os.Signal
	state   atomic.Int32
	compact atomic.Uint32
	reload  atomic.Uint32
}

func New() *Plane {
	return &Plane{sigCh: make(chan os.Signal, 16)}
}

// Notify 注册 SIGINT SIGTERM SIGUSR1 SIGUSR2
func (p *Plane) Notify() {
	signal.Notify(p.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
}

// Stop 取消信号注册
func (p *Plane) Stop() {
	signal.Stop(p.sigCh)
}

// Deliver 与收到信号等价，可在任意 goroutine 调用
func (p *Plane) Deliver(sig os.Signal) {
	select {
	case p.sigCh <- sig:
	default:
		// channel 满时同类请求会合并
		p.apply(sig)
	}
}

func (p *Plane) apply(sig os.Signal) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		p.state.CompareAndSwap(int32(Running), int32(Draining))
	case syscall.SIGUSR1:
		p.compact.Add(1)
	case syscall.SIGUSR2:
		p.reload.Add(1)
	}
}

// Observe 非阻塞地取出所有待处理信号；同一轮内的重复请求合并为一次
func (p *Plane) Observe() Actions {
	var a Actions
drain:
	for {
		select {
		case sig := <-p.sigCh:
			p.apply(sig)
			a.Signals = append(a.Signals, sig)
		default:
			break drain
		}
	}
	a.Compact = p.compact.Swap(0) > 0
	a.Reload = p.reload.Swap(0) > 0
	return a
}

func (p *Plane) State() State {
	return State(p.state.Load())
}

// Stopping 收到终止信号
func (p *Plane) Stopping() bool {
	return p.State() != Running
}

// MarkStopped DRAINING -> STOPPED；最终 compaction 完成后调用
func (p *Plane) MarkStopped() {
	p.state.Store(int32(Stopped))
}
