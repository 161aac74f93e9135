// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agentboard/agentboard-go/pkg/agent"
	"github.com/agentboard/agentboard-go/pkg/cron"
	"github.com/agentboard/agentboard-go/pkg/envelope"
	"github.com/agentboard/agentboard-go/pkg/messenger"
	"github.com/agentboard/agentboard-go/pkg/registry"
	"github.com/agentboard/agentboard-go/pkg/storage"
)

// Messenger is the part of messenger.Messenger used by a Dispatcher.
type Messenger interface {
	AgentID() string
	Send(ctx context.Context, e envelope.Envelope) (string, error)
	Subscribe(ctx context.Context, topic, subscriberID string, sink messenger.Sink) (*messenger.Subscription, error)
}

// Journal records the Results of finished Delegations and serves them after their collection, e.g., a storage.Store.
type Journal interface {
	Record(ji storage.JournalItem) error
	QueryJournal(id string) (storage.JournalItem, error)
	QueryStatus(status string) ([]storage.JournalItem, error)
}

// Options configure a Dispatcher.
type Options struct {
	// ReplyTopic on which agents answer. Defaults to the Messenger's agent id.
	ReplyTopic string

	// InboxTopic accepts plain text requests from other agents, if set.
	InboxTopic string

	// Timeout of each forward attempt.
	Timeout time.Duration

	// RetryLimit is the number of additional forward attempts after a timeout.
	RetryLimit int

	// SweepInterval of the timeout sweeper.
	SweepInterval time.Duration

	// GracePeriod keeps finished Delegations for status queries.
	GracePeriod time.Duration

	// Ranker is consulted before the deterministic tie-break, if set.
	Ranker Ranker

	// RefreshOnMiss refreshes the Registry once before reporting ErrNoAgentFound.
	RefreshOnMiss bool

	// Journal records finished Delegations, if set.
	Journal Journal

	// Cron runs the sweeper. A Dispatcher without a Cron creates its own one.
	Cron *cron.Cron
}

// DefaultOptions for a Dispatcher.
var DefaultOptions = Options{
	Timeout:       30 * time.Second,
	RetryLimit:    2,
	SweepInterval: time.Second,
	GracePeriod:   5 * time.Minute,
}

// Dispatcher delegates Requests to agents and owns all pending Delegations.
type Dispatcher struct {
	messenger Messenger
	registry  *registry.Registry
	opts      Options

	mutex    sync.Mutex
	active   map[string]*Delegation
	finished map[string]*Delegation

	cron    *cron.Cron
	ownCron bool
	subs    []*messenger.Subscription

	inboxWg sync.WaitGroup
	stopSyn chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a Dispatcher. It must be started to receive replies.
func New(m Messenger, r *registry.Registry, opts Options) *Dispatcher {
	if opts.ReplyTopic == "" {
		opts.ReplyTopic = m.AgentID()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}
	if opts.RetryLimit < 0 {
		opts.RetryLimit = 0
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions.SweepInterval
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultOptions.GracePeriod
	}

	d := &Dispatcher{
		messenger: m,
		registry:  r,
		opts:      opts,
		active:    make(map[string]*Delegation),
		finished:  make(map[string]*Delegation),
		cron:      opts.Cron,
		stopSyn:   make(chan struct{}),
	}
	if d.cron == nil {
		d.cron = cron.NewCron(opts.SweepInterval)
		d.ownCron = true
	}
	return d
}

func (d *Dispatcher) logger() *log.Entry {
	return log.WithField("dispatcher", d.messenger.AgentID())
}

// Options returns the effective Options.
func (d *Dispatcher) Options() Options {
	return d.opts
}

// Start subscribing to replies and sweeping for timeouts.
func (d *Dispatcher) Start(ctx context.Context) (err error) {
	d.startOnce.Do(func() {
		var sub *messenger.Subscription
		if sub, err = d.messenger.Subscribe(ctx, d.opts.ReplyTopic, d.messenger.AgentID(), messenger.SinkFunc(d.handleReply)); err != nil {
			return
		}
		d.subs = append(d.subs, sub)

		if d.opts.InboxTopic != "" && d.opts.InboxTopic != d.opts.ReplyTopic {
			if sub, err = d.messenger.Subscribe(ctx, d.opts.InboxTopic, d.messenger.AgentID(), messenger.SinkFunc(d.handleInbox)); err != nil {
				return
			}
			d.subs = append(d.subs, sub)
		}

		if err = d.cron.Register("dispatch_sweep", d.sweep, d.opts.SweepInterval); err != nil {
			return
		}
		if err = d.cron.Register("dispatch_collect", d.collect, d.opts.SweepInterval); err != nil {
			return
		}

		d.logger().WithFields(log.Fields{
			"reply_topic": d.opts.ReplyTopic,
			"inbox_topic": d.opts.InboxTopic,
			"timeout":     d.opts.Timeout,
			"retry_limit": d.opts.RetryLimit,
		}).Info("Dispatcher started")
	})
	return
}

// Close the Dispatcher. Active Delegations are cancelled.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.stopSyn)

		for _, sub := range d.subs {
			sub.Unsubscribe()
		}

		d.cron.Unregister("dispatch_sweep")
		d.cron.Unregister("dispatch_collect")
		if d.ownCron {
			d.cron.Stop()
		}

		d.mutex.Lock()
		active := make([]*Delegation, 0, len(d.active))
		for _, dl := range d.active {
			active = append(active, dl)
		}
		d.mutex.Unlock()

		for _, dl := range active {
			d.resolve(dl, Cancelled, "", ErrCancelled)
		}

		d.inboxWg.Wait()
	})
}

// match returns the ordered candidates for a Request.
func (d *Dispatcher) match(req Request) []registry.Candidate {
	if keys := req.keys(); len(keys) > 0 {
		return rank(d.opts.Ranker, req, d.registry.Candidates(keys...))
	}

	// Without keys, only a Ranker can find candidates.
	if d.opts.Ranker == nil {
		return nil
	}

	var cs []registry.Candidate
	for _, entry := range d.registry.Snapshot() {
		c := registry.Candidate{AgentID: entry.Manifest.AgentID, LastSeen: entry.LastSeen, Manifest: entry.Manifest}
		if d.opts.Ranker.Score(req, c) > 0 {
			cs = append(cs, c)
		}
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].LastSeen.After(cs[j].LastSeen) })
	return rank(d.opts.Ranker, req, cs)
}

// Submit a Request. The returned Delegation is forwarded to the chosen agent, unless an error occurred. Without any
// candidate, the Delegation ends as no_match with ErrNoAgentFound.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*Delegation, error) {
	if req.Requester == "" {
		req.Requester = d.messenger.AgentID()
	}

	dl := newDelegation(req)
	logger := d.logger().WithFields(log.Fields{
		"delegation": dl.id,
		"requester":  req.Requester,
	})
	logger.WithField("keys", req.keys()).Debug("Dispatcher received request")

	cs := d.match(req)
	if len(cs) == 0 && d.opts.RefreshOnMiss {
		logger.Info("No candidate found, refreshing registry once")
		if _, err := d.registry.Refresh(ctx); err != nil {
			logger.WithError(err).Warn("Registry refresh errored")
		}
		cs = d.match(req)
	}

	if len(cs) == 0 {
		res, _ := d.resolve(dl, NoMatch, "", ErrNoAgentFound)
		return dl, res.Err
	}

	target := cs[0]
	dl.mutex.Lock()
	dl.target = target.AgentID
	dl.topic = target.Manifest.PrimaryTopic()
	dl.mutex.Unlock()
	dl.advance(Matched, Received)

	logger.WithFields(log.Fields{
		"target":     target.AgentID,
		"candidates": len(cs),
	}).Info("Dispatcher matched request")

	d.mutex.Lock()
	d.active[dl.id] = dl
	d.mutex.Unlock()

	if err := d.forward(ctx, dl, false); err != nil {
		res, _ := d.resolve(dl, TimedOut, "", fmt.Errorf("%w: %w", ErrDelegationTimeout, err))
		return dl, res.Err
	}

	dl.advance(Forwarded, Matched)
	return dl, nil
}

// forward the Delegation's Task to its target agent. A retry only happens for forwarded Delegations.
func (d *Dispatcher) forward(ctx context.Context, dl *Delegation, retry bool) error {
	dl.mutex.Lock()
	if retry {
		if dl.state != Forwarded {
			dl.mutex.Unlock()
			return nil
		}
		dl.retryCount++
	}
	dl.sentAt = time.Now()
	target, topic, attempt := dl.target, dl.topic, dl.retryCount+1
	dl.mutex.Unlock()

	content, err := agent.EncodeTask(agent.Task{
		ID:          dl.id,
		TargetAgent: target,
		Description: dl.req.Content,
		Context:     dl.req.Context,
		Artifacts:   dl.req.Artifacts,
	})
	if err != nil {
		return err
	}

	e := envelope.New(topic, d.messenger.AgentID(), content,
		envelope.To(target),
		envelope.CorrelatedWith(dl.id),
		envelope.WithMetadata(envelope.MetaReplyTo, d.opts.ReplyTopic),
		envelope.WithMetadata(envelope.MetaKind, agent.KindTask))

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.Timeout)
	defer cancel()

	if _, err := d.messenger.Send(sendCtx, e); err != nil {
		return err
	}

	d.logger().WithFields(log.Fields{
		"delegation": dl.id,
		"target":     target,
		"topic":      topic,
		"attempt":    attempt,
		"envelope":   e.ID,
	}).Info("Dispatcher forwarded task")
	return nil
}

// resolve a Delegation into a terminal state. Only the first resolution is effective and reported as such.
func (d *Dispatcher) resolve(dl *Delegation, state State, response string, err error) (Result, bool) {
	res, ok := dl.finish(state, response, err)
	if !ok {
		res, _ = dl.Result()
		return res, false
	}

	d.mutex.Lock()
	delete(d.active, dl.id)
	d.finished[dl.id] = dl
	d.mutex.Unlock()

	logger := d.logger().WithFields(log.Fields{
		"delegation": dl.id,
		"target":     res.TargetAgent,
		"state":      state,
		"attempts":   res.Attempts,
	})
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.Info("Delegation finished")

	d.journal(dl, res)
	return res, true
}

// journal records a finished Delegation, if a Journal is configured.
func (d *Dispatcher) journal(dl *Delegation, res Result) {
	if d.opts.Journal == nil {
		return
	}

	ji := storage.JournalItem{
		Id:          dl.id,
		Requester:   dl.req.Requester,
		TargetAgent: res.TargetAgent,
		Topic:       dl.Status().Topic,
		Status:      res.State.String(),
		Response:    res.Response,
		Created:     dl.created,
		Finished:    res.Finished,
	}
	if res.Attempts > 1 {
		ji.RetryCount = res.Attempts - 1
	}
	if res.Err != nil {
		ji.Error = res.Err.Error()
	}

	if err := d.opts.Journal.Record(ji); err != nil {
		d.logger().WithError(err).WithField("delegation", dl.id).Warn("Recording delegation in journal errored")
	}
}

func (d *Dispatcher) lookupActive(id string) *Delegation {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.active[id]
}

// handleReply resolves the Delegation correlated to an agent's reply.
func (d *Dispatcher) handleReply(e envelope.Envelope) {
	if e.From == d.messenger.AgentID() || e.CorrelationID == "" {
		return
	}
	d.registry.Touch(e.From, time.Now())

	logger := d.logger().WithFields(log.Fields{
		"delegation": e.CorrelationID,
		"sender":     e.From,
		"envelope":   e.ID,
	})

	dl := d.lookupActive(e.CorrelationID)
	if dl == nil {
		logger.Debug("Discarding reply for an unknown, cancelled or finished delegation")
		return
	}

	dl.mutex.Lock()
	target := dl.target
	dl.mutex.Unlock()
	if e.From != target {
		logger.WithField("target", target).Info("Discarding reply from an agent other than the target")
		return
	}

	switch e.Meta(envelope.MetaKind) {
	case agent.KindTask:
		return

	case agent.KindAck:
		dl.mutex.Lock()
		if dl.state == Matched || dl.state == Forwarded {
			dl.state = Acknowledged
			dl.acked = time.Now()
		}
		dl.mutex.Unlock()
		logger.Debug("Delegation was acknowledged")

	case agent.KindError:
		dl.advance(Acknowledged, Matched, Forwarded)
		d.resolve(dl, Completed, "", fmt.Errorf("%w: %s: %s", ErrAgentFailed, e.From, e.Content))

	default:
		dl.advance(Acknowledged, Matched, Forwarded)
		d.resolve(dl, Completed, e.Content, nil)
	}
}

// sweep times out or re-forwards expired Delegations. It is the only writer of timed_out for forwarded Delegations.
func (d *Dispatcher) sweep() {
	now := time.Now()
	deadline := d.opts.Timeout * time.Duration(d.opts.RetryLimit+1)

	var expired, resend []*Delegation

	d.mutex.Lock()
	for _, dl := range d.active {
		dl.mutex.Lock()
		switch {
		case dl.state == Forwarded && now.Sub(dl.sentAt) >= d.opts.Timeout:
			if dl.retryCount < d.opts.RetryLimit {
				resend = append(resend, dl)
			} else {
				expired = append(expired, dl)
			}

		case dl.state == Acknowledged && now.Sub(dl.created) >= deadline:
			expired = append(expired, dl)
		}
		dl.mutex.Unlock()
	}
	d.mutex.Unlock()

	for _, dl := range expired {
		d.resolve(dl, TimedOut, "", ErrDelegationTimeout)
	}

	for _, dl := range resend {
		if err := d.forward(context.Background(), dl, true); err != nil {
			d.resolve(dl, TimedOut, "", fmt.Errorf("%w: %w", ErrDelegationTimeout, err))
		}
	}
}

// collect finished Delegations after their grace period.
func (d *Dispatcher) collect() {
	threshold := time.Now().Add(-d.opts.GracePeriod)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	for id, dl := range d.finished {
		if res, ok := dl.Result(); ok && res.Finished.Before(threshold) {
			delete(d.finished, id)
		}
	}
}

// Cancel an active Delegation. A late reply is discarded.
func (d *Dispatcher) Cancel(id string) (Result, error) {
	d.mutex.Lock()
	dl, active := d.active[id]
	_, finished := d.finished[id]
	d.mutex.Unlock()

	switch {
	case active:
		if res, ok := d.resolve(dl, Cancelled, "", ErrCancelled); ok {
			return res, nil
		}
		return Result{}, ErrAlreadyTerminal

	case finished:
		return Result{}, ErrAlreadyTerminal

	default:
		return Result{}, ErrUnknownDelegation
	}
}

// Dispatch submits a Request and waits for its Result. If the context ends first, the Delegation is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	dl, err := d.Submit(ctx, req)
	if dl == nil {
		return Result{}, err
	}

	select {
	case <-dl.Done():
	case <-ctx.Done():
		if _, cErr := d.Cancel(dl.id); cErr != nil && !errors.Is(cErr, ErrAlreadyTerminal) {
			return Result{}, cErr
		}
	}

	res, _ := dl.Result()
	return res, res.Err
}

// Get a Delegation's Status.
func (d *Dispatcher) Get(id string) (Status, bool) {
	d.mutex.Lock()
	dl, ok := d.active[id]
	if !ok {
		dl, ok = d.finished[id]
	}
	d.mutex.Unlock()

	if ok {
		return dl.Status(), true
	}

	if d.opts.Journal == nil {
		return Status{}, false
	}
	ji, err := d.opts.Journal.QueryJournal(id)
	if err != nil {
		if !storage.IsNotFound(err) {
			d.logger().WithError(err).WithField("delegation", id).Warn("Querying journal errored")
		}
		return Status{}, false
	}
	return journalStatus(ji), true
}

// journalStatus restores a collected Delegation's Status from its JournalItem.
func journalStatus(ji storage.JournalItem) Status {
	s := Status{
		ID:          ji.Id,
		Requester:   ji.Requester,
		TargetAgent: ji.TargetAgent,
		Topic:       ji.Topic,
		RetryCount:  ji.RetryCount,
		Created:     ji.Created,
		Response:    ji.Response,
		Error:       ji.Error,
	}
	if err := s.State.UnmarshalText([]byte(ji.Status)); err != nil {
		log.WithError(err).WithField("delegation", ji.Id).Debug("Journal holds an unknown state")
	}
	if !ji.Finished.IsZero() {
		finished := ji.Finished
		s.Finished = &finished
	}
	return s
}

// Journaled lists the recorded Delegations in a terminal State, ordered by their completion. Without a Journal, the
// not yet collected finished Delegations are listed.
func (d *Dispatcher) Journaled(state State) ([]Status, error) {
	if !state.Terminal() {
		return nil, fmt.Errorf("state %v is not terminal", state)
	}

	if d.opts.Journal == nil {
		ss := []Status{}
		for _, s := range d.Delegations() {
			if s.State == state {
				ss = append(ss, s)
			}
		}
		return ss, nil
	}

	jis, err := d.opts.Journal.QueryStatus(state.String())
	if err != nil {
		return nil, err
	}

	ss := make([]Status, len(jis))
	for i, ji := range jis {
		ss[i] = journalStatus(ji)
	}
	return ss, nil
}

func statuses(dls []*Delegation) []Status {
	ss := make([]Status, len(dls))
	for i, dl := range dls {
		ss[i] = dl.Status()
	}
	sort.Slice(ss, func(i, j int) bool { return ss[i].Created.Before(ss[j].Created) })
	return ss
}

// Pending lists all active Delegations, oldest first.
func (d *Dispatcher) Pending() []Status {
	d.mutex.Lock()
	dls := make([]*Delegation, 0, len(d.active))
	for _, dl := range d.active {
		dls = append(dls, dl)
	}
	d.mutex.Unlock()

	return statuses(dls)
}

// Delegations lists all active and not yet collected finished Delegations, oldest first.
func (d *Dispatcher) Delegations() []Status {
	d.mutex.Lock()
	dls := make([]*Delegation, 0, len(d.active)+len(d.finished))
	for _, dl := range d.active {
		dls = append(dls, dl)
	}
	for _, dl := range d.finished {
		dls = append(dls, dl)
	}
	d.mutex.Unlock()

	return statuses(dls)
}

// handleInbox serves plain text requests of other agents and replies with the delegation's outcome.
func (d *Dispatcher) handleInbox(e envelope.Envelope) {
	if e.From == d.messenger.AgentID() || !e.AddressedTo(d.messenger.AgentID()) || e.Meta(envelope.MetaKind) != "" {
		return
	}

	content := strings.TrimSpace(e.Content)
	if strings.HasPrefix(content, "{") && strings.Contains(content, "jsonrpc") {
		d.logger().WithField("envelope", e.ID).Debug("Skipping machine message in inbox")
		return
	}

	select {
	case <-d.stopSyn:
		return
	default:
	}

	d.inboxWg.Add(1)
	go func() {
		defer d.inboxWg.Done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-d.stopSyn:
				cancel()
			case <-ctx.Done():
			}
		}()

		res, err := d.Dispatch(ctx, Request{Requester: e.From, Content: content})

		reply := e.Reply(d.messenger.AgentID(), res.Response, envelope.WithMetadata(envelope.MetaKind, agent.KindResult))
		if err != nil {
			reply = e.Reply(d.messenger.AgentID(), err.Error(), envelope.WithMetadata(envelope.MetaKind, agent.KindError))
		}

		sendCtx, sendCancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		defer sendCancel()
		if _, sErr := d.messenger.Send(sendCtx, reply); sErr != nil {
			d.logger().WithError(sErr).WithField("requester", e.From).Warn("Replying to inbox request failed")
		}
	}()
}
