// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"
)

// ErrNoBoard is returned by Lookup if no board was discovered in time.
var ErrNoBoard = errors.New("no board discovered")

// Board is a discovered board endpoint.
type Board struct {
	Node string
	URL  string
	Seen time.Time
}

// Manager publishes Announcements and collects the boards announced by others. An agent starts its Manager
// without Announcements and uses Lookup to find a board.
type Manager struct {
	stopChan4 chan struct{}
	stopChan6 chan struct{}
	stopOnce  sync.Once

	mutex  sync.Mutex
	boards map[string]Board
}

// NewManager for Announcements will be created and started.
func NewManager(announcements []Announcement, announcementInterval time.Duration, ipv4, ipv6 bool) (*Manager, error) {
	var manager = &Manager{
		boards: make(map[string]Board),
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"interval":      announcementInterval,
		"IPv4":          ipv4,
		"IPv6":          ipv6,
		"announcements": announcements,
	}).Info("Starting discovery Manager")

	msg, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, address4, manager.stopChan4, peerdiscovery.IPv4, manager.notify},
		{ipv6, address6, manager.stopChan6, peerdiscovery.IPv6, manager.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		set := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            announcementInterval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		discoverErrChan := make(chan error, 1)
		go func() {
			_, discoverErr := peerdiscovery.Discover(set)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
			break
		}
	}

	return manager, nil
}

func (manager *Manager) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	manager.notify(discovered)
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn(
			"Discovery failed to parse incoming package")
		return
	}

	for _, announcement := range announcements {
		manager.handleDiscovery(announcement, discovered.Address)
	}
}

func (manager *Manager) handleDiscovery(announcement Announcement, addr string) {
	board := Board{
		Node: announcement.Node,
		URL:  announcement.URL(addr),
		Seen: time.Now(),
	}

	manager.mutex.Lock()
	_, known := manager.boards[board.URL]
	manager.boards[board.URL] = board
	manager.mutex.Unlock()

	if !known {
		log.WithFields(log.Fields{
			"node": board.Node,
			"url":  board.URL,
		}).Info("Discovered a new board")
	}
}

// Boards returns all discovered boards, most recently seen first.
func (manager *Manager) Boards() []Board {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	boards := make([]Board, 0, len(manager.boards))
	for _, board := range manager.boards {
		boards = append(boards, board)
	}
	sort.Slice(boards, func(i, j int) bool {
		if !boards[i].Seen.Equal(boards[j].Seen) {
			return boards[i].Seen.After(boards[j].Seen)
		}
		return boards[i].URL < boards[j].URL
	})
	return boards
}

// Lookup returns the URL of the most recently seen board. It waits for an announcement until the context is done.
func (manager *Manager) Lookup(ctx context.Context) (string, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if boards := manager.Boards(); len(boards) > 0 {
			return boards[0].URL, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrNoBoard, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close this Manager.
func (manager *Manager) Close() {
	manager.stopOnce.Do(func() {
		for _, c := range []chan struct{}{manager.stopChan4, manager.stopChan6} {
			if c != nil {
				c <- struct{}{}
			}
		}
	})
}
