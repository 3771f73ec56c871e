//go:build linux

package netwatch

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const linkUpFlags = unix.IFF_UP | unix.IFF_RUNNING

// Run watches host links until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	updates := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	subErr := make(chan error, 1)
	if err := netlink.LinkSubscribeWithOptions(updates, done, netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			select {
			case subErr <- err:
			default:
			}
		},
	}); err != nil {
		return fmt.Errorf("subscribe link updates: %w", err)
	}

	links, err := netlink.LinkList()
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}
	initial := make([]Event, 0, len(links))
	for _, link := range links {
		initial = append(initial, linkEvent(link.Attrs(), link.Attrs().RawFlags, false))
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				ev := linkEvent(u.Link.Attrs(), u.IfInfomsg.Flags, u.Header.Type == unix.RTM_DELLINK)
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	w.log.Debug("watching links", "links", len(initial))
	w.watch(ctx, initial, events)

	if ctx.Err() != nil {
		return nil
	}
	select {
	case err := <-subErr:
		return fmt.Errorf("link subscription: %w", err)
	default:
		return errors.New("link subscription closed")
	}
}

// linkEvent maps a link to an Event. Loopback links map to an unnamed event,
// which is ignored.
func linkEvent(attrs *netlink.LinkAttrs, rawFlags uint32, removed bool) Event {
	if attrs == nil || attrs.Flags&net.FlagLoopback != 0 {
		return Event{}
	}
	return Event{
		Name:    attrs.Name,
		Up:      rawFlags&linkUpFlags == linkUpFlags,
		Removed: removed,
	}
}
