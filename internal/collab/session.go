package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/presence"
)

// State is the lifecycle of a playlist session.
type State int

const (
	StateUninitialized State = iota
	StateSyncing
	StateLive
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateDetached:
		return "detached"
	}
	return "unknown"
}

// SessionConfig tunes one playlist session.
type SessionConfig struct {
	// SnapshotEvery compacts the log into a snapshot after this many
	// applied operations.
	SnapshotEvery int
	// RetryCeiling bounds resolution passes for buffered operations.
	RetryCeiling int
	// MailboxSize bounds queued commands and feed events.
	MailboxSize int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = 32
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = DefaultRetryCeiling
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 256
	}
	return c
}

// SessionDeps are the collaborators a session talks to.
type SessionDeps struct {
	Store   oplog.Store
	Feed    oplog.Feed
	Tracker *presence.Tracker
}

type submitReq struct {
	ctx     context.Context
	actor   string
	typ     model.OpType
	payload any
	deps    []string
	reply   chan submitReply
}

type submitReply struct {
	op    model.Operation
	state model.Playlist
	err   error
}

type subscribeReq struct {
	userID string
	reply  chan subscribeReply
}

type subscribeReply struct {
	sub   *Subscription
	state model.Playlist
	err   error
}

// Session owns one playlist: the authoritative projection, the lifecycle
// state machine and the serialized resolution of every operation touching
// the playlist. The run goroutine is the only writer; everything else goes
// through the mailbox.
type Session struct {
	playlistID string
	deps       SessionDeps
	cfg        SessionConfig
	onDetach   func(playlistID string)

	mailbox chan func()
	quit    chan struct{}
	done    chan struct{}
	stop    sync.Once

	ctx     context.Context
	feedSub oplog.Subscription
	broker  *broker

	// Observable mirror of the run goroutine's state.
	mirror       sync.RWMutex
	mirrorState  State
	mirrorReason string

	// Owned by the run goroutine.
	state         State
	detachReason  string
	seed          model.Playlist
	proj          *Projection
	res           *resolver
	lastSeq       int64
	sinceSnapshot int
}

// NewSession creates a session for one playlist. seed is the identity
// playlist (no operations folded): id, owner, creation name, invite code
// and the current collaborator table. Start must be called before use.
func NewSession(ctx context.Context, playlistID string, seed model.Playlist, deps SessionDeps, cfg SessionConfig, onDetach func(string)) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		playlistID: playlistID,
		deps:       deps,
		cfg:        cfg,
		onDetach:   onDetach,
		mailbox:    make(chan func(), cfg.MailboxSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		broker:     newBroker(),
		seed:       seed.Clone(),
		res:        newResolver(cfg.RetryCeiling),
		state:      StateUninitialized,
	}
}

func (s *Session) Start() {
	go s.run()
}

// Stop ends the session and waits for the run goroutine. Broadcast streams
// close; durable operations are never retracted.
func (s *Session) Stop() {
	s.stop.Do(func() { close(s.quit) })
	<-s.done
}

// Status reports the lifecycle state without blocking on the session loop,
// so it answers even mid-sync. reason is set once detached.
func (s *Session) Status() (State, string) {
	s.mirror.RLock()
	defer s.mirror.RUnlock()
	return s.mirrorState, s.mirrorReason
}

func (s *Session) setState(st State, reason string) {
	s.state = st
	s.detachReason = reason
	s.mirror.Lock()
	s.mirrorState, s.mirrorReason = st, reason
	s.mirror.Unlock()
}

// Submit runs one local mutation through the full pipeline: permission
// gate, clock stamp, optimistic apply, durable append with rollback on
// failure. Submissions made while the session is still syncing wait in the
// mailbox and are handled in submission order once the initial sync
// settles.
func (s *Session) Submit(ctx context.Context, actor string, typ model.OpType, payload any, deps []string) (model.Operation, model.Playlist, error) {
	req := submitReq{ctx: ctx, actor: actor, typ: typ, payload: payload, deps: deps, reply: make(chan submitReply, 1)}
	if err := s.enqueue(ctx, func() { s.handleSubmit(req) }); err != nil {
		return model.Operation{}, model.Playlist{}, err
	}
	select {
	case r := <-req.reply:
		return r.op, r.state, r.err
	case <-ctx.Done():
		return model.Operation{}, model.Playlist{}, ctx.Err()
	case <-s.done:
		return model.Operation{}, model.Playlist{}, errf(KindSyncError, "playlist %s session stopped", s.playlistID)
	}
}

// Subscribe attaches a local update stream. Parked until the session
// leaves Syncing so the first thing every subscriber has is a full state.
func (s *Session) Subscribe(ctx context.Context, userID string) (*Subscription, model.Playlist, error) {
	req := subscribeReq{userID: userID, reply: make(chan subscribeReply, 1)}
	if err := s.enqueue(ctx, func() { s.handleSubscribe(req) }); err != nil {
		return nil, model.Playlist{}, err
	}
	select {
	case r := <-req.reply:
		return r.sub, r.state, r.err
	case <-ctx.Done():
		return nil, model.Playlist{}, ctx.Err()
	case <-s.done:
		return nil, model.Playlist{}, errf(KindSyncError, "playlist %s session stopped", s.playlistID)
	}
}

// CurrentState returns the folded playlist, waiting out a sync in
// progress.
func (s *Session) CurrentState(ctx context.Context) (model.Playlist, error) {
	reply := make(chan subscribeReply, 1)
	if err := s.enqueue(ctx, func() { s.handleStateRead(reply) }); err != nil {
		return model.Playlist{}, err
	}
	select {
	case r := <-reply:
		return r.state, r.err
	case <-ctx.Done():
		return model.Playlist{}, ctx.Err()
	case <-s.done:
		return model.Playlist{}, errf(KindSyncError, "playlist %s session stopped", s.playlistID)
	}
}

func (s *Session) enqueue(ctx context.Context, fn func()) error {
	select {
	case s.mailbox <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errf(KindSyncError, "playlist %s session stopped", s.playlistID)
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer func() {
		if s.feedSub != nil {
			s.feedSub.Close()
		}
		s.broker.shutdown(s.playlistID, "session stopped")
	}()

	// Anything submitted during bootstrap waits in the mailbox and runs,
	// in order, once the initial sync settles.
	s.bootstrap()

	var feedEvents <-chan oplog.Event
	if s.feedSub != nil {
		feedEvents = s.feedSub.Events()
	}

	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.mailbox:
			fn()
		case evt, ok := <-feedEvents:
			if !ok {
				if s.state != StateDetached {
					s.detach("change feed closed")
				}
				feedEvents = nil
				continue
			}
			s.handleFeedEvent(evt)
		}
	}
}

// bootstrap: Uninitialized -> Syncing -> Live, or Detached on store
// trouble. Snapshot first, then the log tail, collaborators riding in from
// the seed.
func (s *Session) bootstrap() {
	s.setState(StateSyncing, "")

	sub, err := s.deps.Feed.Subscribe(s.ctx, s.playlistID)
	if err != nil {
		s.detach("change feed subscribe: " + err.Error())
		return
	}
	s.feedSub = sub

	snap, err := s.deps.Store.ReadSnapshot(s.ctx, s.playlistID)
	switch {
	case err == nil:
		proj, derr := DecodeProjection(snap.State)
		if derr != nil {
			log.Printf("collab-service: playlist %s snapshot unreadable, refolding: %v", s.playlistID, derr)
			if rerr := s.refold(s.ctx); rerr != nil {
				s.detach("refold after bad snapshot: " + rerr.Error())
				return
			}
		} else {
			// Collaborators are not part of the fold; the seed carries the
			// current table.
			proj.Playlist.Collaborators = s.seed.Clone().Collaborators
			s.proj = proj
			s.lastSeq = snap.LastSeq
		}
	case errors.Is(err, oplog.ErrNotFound):
		s.proj = NewProjection(s.seed)
		s.lastSeq = 0
	default:
		s.detach("read snapshot: " + err.Error())
		return
	}

	if err := s.catchUp(s.ctx); err != nil {
		s.detach("read operations: " + err.Error())
		return
	}

	s.setState(StateLive, "")
	log.Printf("collab-service: playlist %s live at seq %d", s.playlistID, s.lastSeq)
	s.broadcastState()
}

func (s *Session) detach(reason string) {
	if s.state == StateDetached {
		return
	}
	s.setState(StateDetached, reason)
	log.Printf("collab-service: playlist %s detached: %s", s.playlistID, reason)
	s.broker.shutdown(s.playlistID, reason)
	if s.onDetach != nil {
		s.onDetach(s.playlistID)
	}
}

func (s *Session) handleSubmit(req submitReq) {
	if s.state == StateDetached {
		req.reply <- submitReply{err: errf(KindSyncError, "playlist %s detached: %s", s.playlistID, s.detachReason)}
		return
	}

	if err := Authorize(&s.proj.Playlist, req.actor, req.typ); err != nil {
		req.reply <- submitReply{err: err}
		return
	}

	stamp, err := s.proj.Playlist.Clock.Increment(req.actor)
	if err != nil {
		req.reply <- submitReply{err: wrapErr(KindInvalid, err, "stamp operation")}
		return
	}
	op, err := model.NewOperation(s.playlistID, req.actor, req.typ, req.payload, stamp, req.deps)
	if err != nil {
		req.reply <- submitReply{err: wrapErr(KindInvalid, err, "build operation")}
		return
	}

	if !depsMet(s.proj, &op) {
		// Not appended: a dependency this replica has never folded would
		// park the operation in everyone's buffer. The client retries once
		// its view catches up.
		req.reply <- submitReply{err: errf(KindDependencyPending, "operation %s names unresolved dependencies", op.ID)}
		return
	}

	undo := s.proj.Clone()
	if _, err := s.proj.Fold(&op); err != nil {
		s.proj = undo
		req.reply <- submitReply{err: wrapErr(KindInvalid, err, "apply operation")}
		return
	}

	seq, err := s.deps.Store.AppendOperation(req.ctx, op)
	if err != nil {
		s.proj = undo
		if errors.Is(err, oplog.ErrNotFound) {
			req.reply <- submitReply{err: wrapErr(KindNotFound, err, "playlist %s", s.playlistID)}
			return
		}
		log.Printf("collab-service: playlist %s append failed, rolled back: %v", s.playlistID, err)
		// The store already retried the transient failure; what the caller
		// sees is the exhausted outcome, with the append classification
		// preserved in the chain.
		req.reply <- submitReply{err: wrapErr(KindSyncError,
			wrapErr(KindAppendFailed, err, "durable append"),
			"operation %s not appended; local change rolled back", op.ID)}
		return
	}

	if seq > s.lastSeq+1 {
		// Other writers landed between our fold and our append; pick their
		// operations up before anyone reads this state.
		if err := s.catchUp(req.ctx); err != nil {
			log.Printf("collab-service: playlist %s catch-up after append: %v", s.playlistID, err)
		}
	}
	if seq > s.lastSeq {
		s.lastSeq = seq
	}

	s.publishFeed(oplog.Event{
		Type:       oplog.EventOpAppended,
		PlaylistID: s.playlistID,
		Op:         &oplog.Logged{Operation: op, Seq: seq},
	})
	s.afterProgress(1)
	req.reply <- submitReply{op: op, state: s.proj.State()}
}

func (s *Session) handleSubscribe(req subscribeReq) {
	if s.state == StateDetached {
		req.reply <- subscribeReply{err: errf(KindSnapshotUnavailable, "playlist %s detached: %s", s.playlistID, s.detachReason)}
		return
	}
	if err := AuthorizeRead(&s.proj.Playlist, req.userID); err != nil {
		req.reply <- subscribeReply{err: err}
		return
	}
	sub := s.broker.subscribe(s.playlistID, req.userID)
	req.reply <- subscribeReply{sub: sub, state: s.proj.State()}
}

func (s *Session) handleStateRead(reply chan subscribeReply) {
	if s.state == StateDetached {
		reply <- subscribeReply{err: errf(KindSyncError, "playlist %s detached: %s", s.playlistID, s.detachReason)}
		return
	}
	reply <- subscribeReply{state: s.proj.State()}
}

func (s *Session) handleFeedEvent(evt oplog.Event) {
	if s.state == StateDetached {
		return
	}
	switch evt.Type {
	case oplog.EventOpAppended:
		if evt.Op == nil {
			return
		}
		if evt.Op.Seq > s.lastSeq+1 {
			if err := s.catchUp(s.ctx); err != nil {
				log.Printf("collab-service: playlist %s catch-up: %v", s.playlistID, err)
			}
			return
		}
		s.integrate(s.ctx, evt.Op.Operation, evt.Op.Seq)

	case oplog.EventCollaboratorUpsert, oplog.EventCollaboratorRemove:
		var pay oplog.CollaboratorPayload
		if err := decodePayload(evt.Payload, &pay); err != nil {
			log.Printf("collab-service: playlist %s collaborator event: %v", s.playlistID, err)
			return
		}
		s.applyCollaborator(evt.Type, pay)

	case oplog.EventPresence:
		var pay oplog.PresencePayload
		if err := decodePayload(evt.Payload, &pay); err != nil {
			log.Printf("collab-service: playlist %s presence event: %v", s.playlistID, err)
			return
		}
		if pay.Gone {
			s.deps.Tracker.Leave(s.playlistID, pay.UserID)
		} else {
			s.deps.Tracker.Touch(s.playlistID, pay.UserID, presence.Update{
				ClipIndex: pay.ClipIndex,
				Status:    pay.Status,
			})
		}
		s.broadcastPresence()
	}
}

// integrate folds one durable operation into the projection.
func (s *Session) integrate(ctx context.Context, op model.Operation, seq int64) {
	advance := func() {
		if seq > s.lastSeq {
			s.lastSeq = seq
		}
	}
	if err := op.Validate(); err != nil {
		log.Printf("collab-service: playlist %s dropping invalid logged operation %s: %v", s.playlistID, op.ID, err)
		advance()
		return
	}

	decision, err := s.res.resolve(s.proj, &op)
	switch decision {
	case DecisionApplied:
		advance()
		s.afterProgress(1)
	case DecisionSkipped:
		advance()
	case DecisionBuffered:
		advance()
		log.Printf("collab-service: playlist %s buffered %s: dependencies pending", s.playlistID, op.ID)
	case DecisionRebased:
		advance()
		if err := s.refold(ctx); err != nil {
			s.detach("refold: " + err.Error())
			return
		}
		s.afterProgress(1)
	case DecisionRejected:
		advance()
		log.Printf("collab-service: playlist %s rejected %s: %v", s.playlistID, op.ID, err)
	}
}

// afterProgress runs the buffered-operation drain, snapshot compaction and
// fan-out after n operations changed the projection.
func (s *Session) afterProgress(n int) {
	applied, stale, needRefold := s.res.drain(s.proj)
	for _, op := range stale {
		log.Printf("collab-service: playlist %s operation %s stale: dependencies never arrived", s.playlistID, op.ID)
	}
	if needRefold {
		if err := s.refold(s.ctx); err != nil {
			s.detach("refold: " + err.Error())
			return
		}
	}

	s.sinceSnapshot += n + len(applied)
	if s.sinceSnapshot >= s.cfg.SnapshotEvery {
		s.saveSnapshot(s.ctx)
	}
	s.broadcastState()
}

// catchUp reads the log tail and integrates everything after lastSeq.
func (s *Session) catchUp(ctx context.Context) error {
	logged, err := s.deps.Store.ReadOperations(ctx, s.playlistID, s.lastSeq)
	if err != nil {
		return err
	}
	for _, lg := range logged {
		if s.state == StateDetached {
			return nil
		}
		s.integrate(ctx, lg.Operation, lg.Seq)
	}
	return nil
}

// refold rebuilds the projection from the whole history. Needed when an
// operation's canonical slot precedes ones already folded.
func (s *Session) refold(ctx context.Context) error {
	logged, err := s.deps.Store.ReadOperations(ctx, s.playlistID, 0)
	if err != nil {
		return err
	}
	ops := make([]model.Operation, 0, len(logged))
	maxSeq := s.lastSeq
	for _, lg := range logged {
		ops = append(ops, lg.Operation)
		if lg.Seq > maxSeq {
			maxSeq = lg.Seq
		}
	}
	proj, leftover, err := refoldWithDeps(s.seed, ops)
	if err != nil {
		return err
	}
	s.proj = proj
	s.lastSeq = maxSeq
	for _, op := range leftover {
		s.res.enqueue(op)
	}
	s.res.reset(s.proj)
	log.Printf("collab-service: playlist %s refolded %d operations", s.playlistID, len(ops))
	return nil
}

func (s *Session) applyCollaborator(eventType string, pay oplog.CollaboratorPayload) {
	switch eventType {
	case oplog.EventCollaboratorUpsert:
		if pay.Collaborator == nil {
			return
		}
		c := *pay.Collaborator
		s.seed.Collaborators[c.UserID] = c
		if s.proj != nil {
			s.proj.Playlist.Collaborators[c.UserID] = c
		}
	case oplog.EventCollaboratorRemove:
		delete(s.seed.Collaborators, pay.UserID)
		if s.proj != nil {
			delete(s.proj.Playlist.Collaborators, pay.UserID)
		}
		s.deps.Tracker.Leave(s.playlistID, pay.UserID)
	}
	if s.state == StateLive {
		s.broadcastState()
	}
}

func (s *Session) saveSnapshot(ctx context.Context) {
	raw, err := s.proj.Encode()
	if err != nil {
		log.Printf("collab-service: playlist %s snapshot encode: %v", s.playlistID, err)
		return
	}
	err = s.deps.Store.SaveSnapshot(ctx, oplog.Snapshot{
		PlaylistID: s.playlistID,
		State:      raw,
		LastSeq:    s.lastSeq,
	})
	if err != nil {
		log.Printf("collab-service: playlist %s snapshot save: %v", s.playlistID, err)
		return
	}
	s.sinceSnapshot = 0
}

func (s *Session) publishFeed(evt oplog.Event) {
	if err := s.deps.Feed.Publish(s.ctx, evt); err != nil {
		// Other replicas recover from the log by sequence.
		log.Printf("collab-service: playlist %s feed publish: %v", s.playlistID, err)
	}
}

func (s *Session) broadcastState() {
	if s.state != StateLive {
		return
	}
	st := s.proj.State()
	s.broker.publish(Update{Type: UpdateState, PlaylistID: s.playlistID, State: &st})
}

func (s *Session) broadcastPresence() {
	s.broker.publish(Update{
		Type:       UpdatePresence,
		PlaylistID: s.playlistID,
		Presence:   s.deps.Tracker.Active(s.playlistID),
	})
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("empty event payload")
	}
	return json.Unmarshal(raw, v)
}
