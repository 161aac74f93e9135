// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// MemoryEntry is an Envelope as stored by the memory service. The service assigns increasing cursors.
type MemoryEntry struct {
	Cursor   int64             `json:"cursor"`
	Tags     []string          `json:"tags"`
	Envelope envelope.Envelope `json:"envelope"`
}

// EntryTags are the tags attached to an Envelope in the memory service: its topic, recipient, sender and priority.
func EntryTags(e envelope.Envelope) []string {
	to := e.To
	if to == "" {
		to = envelope.Broadcast
	}

	return []string{
		e.Topic,
		"to:" + to,
		"from:" + e.From,
		"priority:" + e.Priority.String(),
	}
}

// MemoryClient is the part of a remote memory service used to relay Envelopes.
type MemoryClient interface {
	// Ping checks the service's health.
	Ping(ctx context.Context) error

	// Write an entry and return its assigned cursor.
	Write(ctx context.Context, entry MemoryEntry) (int64, error)

	// ReadSince returns up to limit entries of a topic with a cursor greater than the given one, oldest first.
	ReadSince(ctx context.Context, topic string, cursor int64, limit int) ([]MemoryEntry, error)

	// Latest returns the limit newest entries of a topic, oldest first.
	Latest(ctx context.Context, topic string, limit int) ([]MemoryEntry, error)
}

// HTTPMemoryClient speaks to a memory service's JSON API.
type HTTPMemoryClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPMemoryClient for a memory service at the base URL, e.g., http://localhost:8283.
func NewHTTPMemoryClient(baseURL, apiKey string) *HTTPMemoryClient {
	return &HTTPMemoryClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPMemoryClient) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buff := new(bytes.Buffer)
		if err := json.NewEncoder(buff).Encode(in); err != nil {
			return err
		}
		body = buff
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("memory service replied %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Ping the service's health endpoint.
func (c *HTTPMemoryClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil, nil)
}

// Write an entry.
func (c *HTTPMemoryClient) Write(ctx context.Context, entry MemoryEntry) (int64, error) {
	var stored MemoryEntry
	if err := c.do(ctx, http.MethodPost, "/v1/entries", nil, entry, &stored); err != nil {
		return 0, err
	}
	return stored.Cursor, nil
}

// ReadSince fetches entries of a topic after a cursor.
func (c *HTTPMemoryClient) ReadSince(ctx context.Context, topic string, cursor int64, limit int) ([]MemoryEntry, error) {
	query := url.Values{}
	query.Set("topic", topic)
	query.Set("after", strconv.FormatInt(cursor, 10))
	query.Set("limit", strconv.Itoa(limit))

	var entries []MemoryEntry
	err := c.do(ctx, http.MethodGet, "/v1/entries", query, nil, &entries)
	return entries, err
}

// Latest fetches the newest entries of a topic.
func (c *HTTPMemoryClient) Latest(ctx context.Context, topic string, limit int) ([]MemoryEntry, error) {
	query := url.Values{}
	query.Set("topic", topic)
	query.Set("limit", strconv.Itoa(limit))

	var entries []MemoryEntry
	err := c.do(ctx, http.MethodGet, "/v1/entries/latest", query, nil, &entries)
	return entries, err
}

// memoryBackend relays through a MemoryClient.
type memoryBackend struct {
	client MemoryClient
}

func (b *memoryBackend) open(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *memoryBackend) close() error {
	return nil
}

func (b *memoryBackend) write(ctx context.Context, e envelope.Envelope) error {
	_, err := b.client.Write(ctx, MemoryEntry{Tags: EntryTags(e), Envelope: e})
	return err
}

func memoryEntries(entries []MemoryEntry) []cursorEnvelope {
	ces := make([]cursorEnvelope, len(entries))
	for i, entry := range entries {
		ces[i] = cursorEnvelope{cursor: entry.Cursor, env: entry.Envelope}
	}
	return ces
}

func (b *memoryBackend) since(ctx context.Context, topic string, cursor int64, limit int) ([]cursorEnvelope, error) {
	entries, err := b.client.ReadSince(ctx, topic, cursor, limit)
	return memoryEntries(entries), err
}

func (b *memoryBackend) latest(ctx context.Context, topic string, limit int) ([]cursorEnvelope, error) {
	entries, err := b.client.Latest(ctx, topic, limit)
	return memoryEntries(entries), err
}

// MemoryAdapter relays Envelopes through a remote memory service. It has no push delivery; subscribers are served by
// polling the service.
type MemoryAdapter struct {
	*poller
}

// NewMemoryAdapter for a MemoryClient. The address is only used for logging and status reports.
func NewMemoryAdapter(client MemoryClient, address string, opts PollOptions) *MemoryAdapter {
	return &MemoryAdapter{
		poller: newPoller(MemoryService, address, &memoryBackend{client: client}, opts),
	}
}

func (ma *MemoryAdapter) String() string {
	return fmt.Sprintf("MemoryAdapter(%s)", ma.address)
}
