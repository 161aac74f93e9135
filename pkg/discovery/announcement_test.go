// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/schollz/peerdiscovery"
)

func TestDiscoveryMessageCbor(t *testing.T) {
	var tests = []Announcement{
		{Node: "board-a", Port: 8000, Path: "/ws"},
		{Node: "", Port: 35043, Path: ""},
		{Node: "board-b", Port: 65535, Path: "/agents/ws"},
	}

	for _, dmIn := range tests {
		buff, err := MarshalAnnouncements([]Announcement{dmIn})
		if err != nil {
			t.Fatalf("Encoding failed: %v", err)
		}

		dmsOut, err := UnmarshalAnnouncements(buff)
		if err != nil {
			t.Fatalf("Decoding failed: %v", err)
		}

		if l := len(dmsOut); l != 1 {
			t.Fatalf("Length of decoded Announcements is %d != 1", l)
		}

		if !reflect.DeepEqual(dmIn, dmsOut[0]) {
			t.Fatalf("Decoded Announcement differs: %v became %v", dmIn, dmsOut[0])
		}
	}
}

func TestAnnouncementURL(t *testing.T) {
	a := Announcement{Node: "board", Port: 8080, Path: "/ws"}
	if url := a.URL("10.0.0.1"); url != "ws://10.0.0.1:8080/ws" {
		t.Fatalf("unexpected URL %s", url)
	}
}

func TestManagerLookup(t *testing.T) {
	manager := &Manager{boards: make(map[string]Board)}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	if _, err := manager.Lookup(ctx); !errors.Is(err, ErrNoBoard) {
		t.Fatalf("expected ErrNoBoard, got %v", err)
	}
	cancel()

	payload, err := MarshalAnnouncements([]Announcement{{Node: "board", Port: 8080, Path: "/ws"}})
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		manager.notify(peerdiscovery.Discovered{Address: "192.168.1.2", Payload: payload})
	}()

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if url, err := manager.Lookup(ctx); err != nil {
		t.Fatal(err)
	} else if url != "ws://192.168.1.2:8080/ws" {
		t.Fatalf("unexpected URL %s", url)
	}

	time.Sleep(5 * time.Millisecond)
	manager.notify6(peerdiscovery.Discovered{Address: "fe80::1", Payload: payload})
	if boards := manager.Boards(); len(boards) != 2 {
		t.Fatalf("expected two boards, got %v", boards)
	} else if boards[0].URL != "ws://[fe80::1]:8080/ws" {
		t.Fatalf("most recent board should be first, got %v", boards)
	}

	manager.notify(peerdiscovery.Discovered{Address: "192.168.1.3", Payload: []byte{0xff}})
	if l := len(manager.Boards()); l != 2 {
		t.Fatalf("invalid payload must be ignored, got %d boards", l)
	}
}
