//go:build linux

package netloop

import (
	"time"

	"golang.org/x/sys/unix"
)

const initialEpollEventsCap = 16

// epollPoller is the default demultiplexer backend: Linux epoll,
// level-triggered. Grounded on the fdDesc/channel-index mirroring in
// xtaci/gaio's watcher.go (poller field + descs map kept in lockstep with
// the kernel interest set) and on the one-poll-object-per-loop shape used
// by kevwan-evio/jursonmo-evio's loop.poll.
type epollPoller struct {
	loop       *EventLoop
	epollFd    int
	events     []unix.EpollEvent
	channelIdx map[int]*Channel
}

func newEpollPoller(loop *EventLoop) (*epollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		loop:       loop,
		epollFd:    fd,
		events:     make([]unix.EpollEvent, initialEpollEventsCap),
		channelIdx: make(map[int]*Channel),
	}, nil
}

func (p *epollPoller) poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	n, err := unix.EpollWait(p.epollFd, p.events, int(timeout/time.Millisecond))
	receiveTime := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return receiveTime, nil
		}
		return receiveTime, err
	}

	for i := 0; i < n; i++ {
		ev := &p.events[i]
		ch, ok := p.channelIdx[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(ev.Events)
		*active = append(*active, ch)
	}

	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}

	return receiveTime, nil
}

func (p *epollPoller) update(ch *Channel) {
	fd := ch.Fd()
	switch ch.State() {
	case pollStateNew:
		p.channelIdx[fd] = ch
		if err := p.ctl(unix.EPOLL_CTL_ADD, ch); err != nil {
			p.loop.logger().Errorf("netloop: epoll_ctl add fd=%d: %v", fd, err)
			return
		}
		ch.SetState(pollStateAdded)
	case pollStateAdded:
		if ch.IsNoneEvent() {
			if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
				p.loop.logger().Errorf("netloop: epoll_ctl del fd=%d: %v", fd, err)
			}
			delete(p.channelIdx, fd)
			ch.SetState(pollStateDeleted)
		} else {
			if err := p.ctl(unix.EPOLL_CTL_MOD, ch); err != nil {
				p.loop.logger().Errorf("netloop: epoll_ctl mod fd=%d: %v", fd, err)
			}
		}
	case pollStateDeleted:
		p.channelIdx[fd] = ch
		if !ch.IsNoneEvent() {
			if err := p.ctl(unix.EPOLL_CTL_ADD, ch); err != nil {
				p.loop.logger().Errorf("netloop: epoll_ctl re-add fd=%d: %v", fd, err)
				return
			}
			ch.SetState(pollStateAdded)
		}
	}
}

func (p *epollPoller) remove(ch *Channel) {
	fd := ch.Fd()
	delete(p.channelIdx, fd)
	if ch.State() == pollStateAdded {
		if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
			p.loop.logger().Errorf("netloop: epoll_ctl del fd=%d on remove: %v", fd, err)
		}
	}
	ch.SetState(pollStateNew)
}

func (p *epollPoller) hasChannel(fd int) bool {
	_, ok := p.channelIdx[fd]
	return ok
}

func (p *epollPoller) close() error {
	return unix.Close(p.epollFd)
}

func (p *epollPoller) ctl(op int, ch *Channel) error {
	ev := unix.EpollEvent{
		Events: ch.Events(),
		Fd:     int32(ch.Fd()),
	}
	return unix.EpollCtl(p.epollFd, op, ch.Fd(), &ev)
}
