// Package session implements the coordinator that owns one live voice
// conversation: it drives audio through transcription, the two-stage
// language pipeline, and synthesis, and serializes every state
// transition through a single event loop.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-labs/parley/pkg/agent"
	"github.com/parley-labs/parley/pkg/core"
	"github.com/parley-labs/parley/pkg/live/protocol"
	"github.com/parley-labs/parley/pkg/store"
	"github.com/parley-labs/parley/pkg/voice/stt"
	"github.com/parley-labs/parley/pkg/voice/tts"
)

const (
	maxCanceledTurnTags       = 64
	outboundPriorityQueueSize = 8
)

var errBackpressure = errors.New("live outbound backpressure")

// Conn is the duplex transport for one session. *websocket.Conn
// satisfies it; tests use an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Config struct {
	IdleTimeout       time.Duration
	TurnTimeout       time.Duration
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	MaxMessageBytes   int64
	OutboundQueueSize int

	STTModel      string
	STTLanguage   string
	STTEncoding   string
	STTSampleRate int
	TTSSampleRate int
}

type Dependencies struct {
	Conn     Conn
	Logger   *slog.Logger
	Agent    agent.Config
	Pipeline *agent.Pipeline
	STT      stt.Transcriber
	TTS      tts.Synthesizer
	Store    store.TurnStore

	SessionID string
	AgentID   string
	UserID    string
	Config    Config
	Now       func() time.Time
}

// Coordinator runs one session. Create with New, drive with Run.
type Coordinator struct {
	conn      Conn
	logger    *slog.Logger
	agent     agent.Config
	pipeline  *agent.Pipeline
	stt       stt.Transcriber
	tts       tts.Synthesizer
	store     store.TurnStore
	sessionID string
	agentID   string
	userID    string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	canceledTurns atomic.Value // canceledTurnState
	audioSeq      atomic.Int64
}

type canceledTurnState struct {
	set   map[string]struct{}
	order []string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type pipeResult struct {
	turnID    int64
	userText  string
	intent    agent.Intent
	text      string
	latencyMS int64
	err       error
}

type ttsDone struct {
	turnID int64
	err    error
}

func New(deps Dependencies) (*Coordinator, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if deps.STT == nil {
		return nil, fmt.Errorf("stt provider is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("tts provider is required")
	}
	if err := deps.Agent.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = store.Noop{}
	}
	if deps.Config.IdleTimeout <= 0 {
		deps.Config.IdleTimeout = 15 * time.Second
	}
	if deps.Config.TurnTimeout <= 0 {
		deps.Config.TurnTimeout = 30 * time.Second
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.TTSSampleRate <= 0 {
		deps.Config.TTSSampleRate = 16000
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Coordinator{
		conn:             deps.Conn,
		logger:           deps.Logger,
		agent:            deps.Agent,
		pipeline:         deps.Pipeline,
		stt:              deps.STT,
		tts:              deps.TTS,
		store:            deps.Store,
		sessionID:        deps.SessionID,
		agentID:          deps.AgentID,
		userID:           deps.UserID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}
	s.canceledTurns.Store(canceledTurnState{set: make(map[string]struct{}), order: nil})
	return s, nil
}

// Cancel stops the session from outside the event loop. Safe to call
// concurrently and more than once.
func (s *Coordinator) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Run drives the session until the transport closes, the client ends
// the stream, the idle timer fires, or Cancel is called.
func (s *Coordinator) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	startedAt := s.now()
	_ = s.store.CreateSession(s.ctx, store.SessionRecord{
		SessionID: s.sessionID,
		AgentID:   s.agentID,
		UserID:    s.userID,
		StartedAt: startedAt,
	})
	endReason := protocol.EndReasonError
	state := StateIdle
	defer func() {
		last := state
		state = StateEnded
		_ = s.store.EndSession(context.Background(), s.sessionID, endReason, s.now())
		s.logger.Info("session ended",
			slog.String("session_id", s.sessionID),
			slog.String("last_state", last.String()),
			slog.String("reason", endReason),
			slog.Duration("duration", s.now().Sub(startedAt)))
	}()

	sttStream, err := s.stt.NewStream(s.ctx, stt.StreamOptions{
		Model:      s.cfg.STTModel,
		Language:   s.cfg.STTLanguage,
		Encoding:   s.cfg.STTEncoding,
		SampleRate: s.cfg.STTSampleRate,
	})
	if err != nil {
		_ = s.sendError(err)
		_ = s.sendSessionEnded(protocol.EndReasonError)
		return err
	}
	defer sttStream.Close()

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:         s.conn,
			ctx:        s.ctx,
			cfg:        s.cfg,
			priority:   s.outboundPriority,
			normal:     s.outboundNormal,
			isCanceled: s.isTurnCanceled,
		}
		err := w.Run()
		// Unblock anything waiting to enqueue once the writer is gone.
		s.cancel()
		writerErrCh <- err
		close(writerErrCh)
	}()

	flushAndClose := func() {
		s.cancel()
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
	}

	if err := s.sendJSONPriority(protocol.ServerSessionReady{
		Type:      "session_ready",
		SessionID: s.sessionID,
		AgentName: s.agent.Name,
	}); err != nil {
		return err
	}

	pipeResultCh := make(chan pipeResult, 4)
	ttsDoneCh := make(chan ttsDone, 4)
	sttEvents := sttStream.Events()

	var wg sync.WaitGroup
	defer wg.Wait()

	var (
		pending     *pendingResponse
		turnCounter int64
		history     []agent.Turn
		pendingCfg  *protocol.AgentConfig

		idleTimer  *time.Timer
		idleActive bool
	)

	stopTimer := func(t **time.Timer, active *bool) {
		if *t == nil {
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
		*active = false
	}
	resetTimer := func(t **time.Timer, active *bool, d time.Duration) {
		if d <= 0 {
			return
		}
		if *t == nil {
			*t = time.NewTimer(d)
			*active = true
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
		(*t).Reset(d)
		*active = true
	}
	idleCh := func() <-chan time.Time {
		if !idleActive || idleTimer == nil {
			return nil
		}
		return idleTimer.C
	}
	defer func() {
		if idleTimer != nil {
			idleTimer.Stop()
		}
	}()

	applyPendingConfig := func() {
		if pendingCfg == nil {
			return
		}
		if name := strings.TrimSpace(pendingCfg.Name); name != "" {
			s.agent.Name = name
		}
		if prompt := strings.TrimSpace(pendingCfg.SystemPrompt); prompt != "" {
			s.agent.SystemPrompt = prompt
		}
		pendingCfg = nil
	}

	// The idle timer runs whenever the session has no pipeline work in
	// flight; the first finalized utterance or text message disarms it.
	resetTimer(&idleTimer, &idleActive, s.cfg.IdleTimeout)

	// cancelPending abandons the in-flight run: the adapter calls are
	// signaled, queued audio for the turn is suppressed, and any result
	// that arrives later is dropped as stale.
	cancelPending := func() {
		if pending == nil {
			return
		}
		pending.Cancel()
		s.cancelTurnAudio(pending.tag)
		pending = nil
	}

	startTurn := func(userText string) {
		userText = strings.TrimSpace(userText)
		if userText == "" {
			return
		}
		cancelPending()
		stopTimer(&idleTimer, &idleActive)

		turnCounter++
		runCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
		pending = &pendingResponse{
			turnID: turnCounter,
			tag:    fmt.Sprintf("t_%d", turnCounter),
			ctx:    runCtx,
			cancel: cancel,
		}
		state = StateThinking

		turnID := turnCounter
		turnStart := s.now()
		historyCopy := make([]agent.Turn, len(history))
		copy(historyCopy, history)
		cfg := s.agent

		wg.Add(1)
		go func() {
			defer wg.Done()
			res := pipeResult{turnID: turnID, userText: userText}

			intent, err := s.pipeline.Classify(runCtx, cfg, userText)
			if err != nil {
				// A failed classification degrades the route, not
				// the turn.
				s.logger.Warn("intent classification failed",
					slog.String("session_id", s.sessionID),
					slog.String("error", err.Error()))
				intent = agent.Intent{Label: "other"}
			}
			res.intent = intent

			text, err := s.pipeline.Respond(runCtx, cfg, userText, intent, historyCopy)
			if err != nil {
				res.err = err
			} else {
				res.text = text
				res.latencyMS = s.now().Sub(turnStart).Milliseconds()
			}

			select {
			case pipeResultCh <- res:
			case <-s.ctx.Done():
			}
		}()
	}

	finishTurn := func() {
		if pending != nil {
			pending.Cancel()
			pending = nil
		}
		state = StateIdle
		applyPendingConfig()
		resetTimer(&idleTimer, &idleActive, s.cfg.IdleTimeout)
	}

	for {
		select {
		case <-s.ctx.Done():
			endReason = protocol.EndReasonShutdown
			_ = s.sendSessionEnded(protocol.EndReasonShutdown)
			flushAndClose()
			return nil

		case err := <-writerErrCh:
			if err != nil {
				return core.NewTransportError(err)
			}
			return nil

		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				// Transport closed; nothing more can be delivered.
				endReason = protocol.EndReasonClient
				cancelPending()
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				continue
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				if err := s.sendJSON(protocol.ServerError{Type: "error", Message: decErr.Error()}); err != nil {
					return err
				}
				continue
			}
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				audio, err := m.Audio()
				if err != nil {
					if err := s.sendJSON(protocol.ServerError{Type: "error", Message: "invalid audio_chunk.data"}); err != nil {
						return err
					}
					continue
				}
				if err := sttStream.SendAudio(audio); err != nil {
					_ = s.sendError(core.NewAdapterError(s.stt.Name(), err))
					continue
				}
				if state == StateIdle {
					state = StateListening
				}
			case protocol.ClientTextMessage:
				startTurn(m.Text)
			case protocol.ClientEndStream:
				endReason = protocol.EndReasonClient
				cancelPending()
				_ = s.sendSessionEnded(protocol.EndReasonClient)
				flushAndClose()
				return nil
			case protocol.ClientConfig:
				cfg := m.Config
				pendingCfg = &cfg
				if state == StateIdle || state == StateListening {
					applyPendingConfig()
				}
			}

		case ev, ok := <-sttEvents:
			if !ok {
				// Report the loss once and stop selecting on the dead
				// channel. Text turns keep working.
				sttEvents = nil
				s.logger.Warn("transcription stream closed",
					slog.String("session_id", s.sessionID),
					slog.String("provider", s.stt.Name()))
				_ = s.sendError(core.NewAdapterError(s.stt.Name(), errors.New("transcription stream closed")))
				continue
			}
			text := strings.TrimSpace(ev.Text)
			if text == "" {
				continue
			}
			if err := s.sendJSON(protocol.ServerTranscript{
				Type:    "transcript",
				Text:    text,
				IsFinal: ev.IsFinal,
			}); err != nil {
				return err
			}
			if ev.IsFinal {
				startTurn(text)
			} else if state == StateIdle {
				state = StateListening
			}

		case res := <-pipeResultCh:
			if pending == nil || res.turnID != pending.turnID || pending.canceled {
				continue // stale run, dropped
			}
			if res.err != nil {
				if errors.Is(res.err, context.Canceled) {
					continue
				}
				_ = s.sendError(res.err)
				finishTurn()
				continue
			}
			if err := s.sendJSON(protocol.ServerAgentResponse{
				Type:   "agent_response",
				Text:   res.text,
				Intent: res.intent.Label,
			}); err != nil {
				return err
			}

			history = append(history,
				agent.Turn{Speaker: "user", Text: res.userText, Intent: res.intent.Label},
				agent.Turn{Speaker: "agent", Text: res.text, LatencyMS: res.latencyMS},
			)
			if len(history) > 2*agent.Window {
				history = history[len(history)-2*agent.Window:]
			}
			now := s.now()
			_ = s.store.AppendTurn(s.ctx, store.TurnRecord{
				SessionID: s.sessionID,
				Speaker:   "user",
				Text:      res.userText,
				Intent:    res.intent.Label,
				CreatedAt: now,
			})
			_ = s.store.AppendTurn(s.ctx, store.TurnRecord{
				SessionID: s.sessionID,
				Speaker:   "agent",
				Text:      res.text,
				Intent:    res.intent.Label,
				LatencyMS: res.latencyMS,
				CreatedAt: now,
			})

			state = StateSpeaking
			turnID := res.turnID
			tag := pending.tag
			// Synthesis runs under the turn context so a barge-in
			// stops it as well.
			speakCtx := pending.ctx
			if speakCtx == nil {
				speakCtx = s.ctx
			}
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				err := s.speakTurn(speakCtx, tag, text)
				select {
				case ttsDoneCh <- ttsDone{turnID: turnID, err: err}:
				case <-s.ctx.Done():
				}
			}(res.text)

		case done := <-ttsDoneCh:
			if pending == nil || done.turnID != pending.turnID {
				continue
			}
			if done.err != nil && !pending.canceled && !errors.Is(done.err, context.Canceled) {
				_ = s.sendError(done.err)
			}
			finishTurn()

		case <-idleCh():
			idleActive = false
			if pending != nil {
				continue
			}
			endReason = protocol.EndReasonTimeout
			_ = s.sendSessionEnded(protocol.EndReasonTimeout)
			flushAndClose()
			return nil
		}
	}
}

// speakTurn streams one synthesized response to the transport. Frames
// carry the turn tag so the writer drops anything queued for a turn
// canceled by barge-in.
func (s *Coordinator) speakTurn(ctx context.Context, tag, text string) error {
	stream, err := s.tts.Speak(ctx, agent.CleanForSpeech(text), tts.SpeakOptions{
		Voice:      s.agent.Voice,
		SampleRate: s.cfg.TTSSampleRate,
	})
	if err != nil {
		return core.NewAdapterError(s.tts.Name(), err)
	}
	defer stream.Close()

	for chunk := range stream.Chunks() {
		if len(chunk.Audio) == 0 && !chunk.Final {
			continue
		}
		// Each chunk ships as a standalone WAV blob so browser clients
		// can hand it straight to an audio element.
		data := chunk.Audio
		if len(data) > 0 {
			data = tts.PCMToWAV(data, s.cfg.TTSSampleRate, 1)
		}
		frame := protocol.ServerAudioChunk{
			Type:  "audio_chunk",
			Data:  base64.StdEncoding.EncodeToString(data),
			Seq:   s.audioSeq.Add(1),
			Final: chunk.Final,
		}
		if err := s.sendTurnAudio(tag, frame); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return core.NewAdapterError(s.tts.Name(), err)
	}
	return nil
}

func (s *Coordinator) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Coordinator) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{payload: payload})
}

func (s *Coordinator) sendTurnAudio(tag string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{isTurnAudio: true, turnTag: tag, payload: payload})
}

func (s *Coordinator) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

// sendError reports a recoverable failure to the client. Internal
// details never cross the transport.
func (s *Coordinator) sendError(err error) error {
	msg := "internal error"
	var ce *core.Error
	if errors.As(err, &ce) {
		msg = ce.ClientMessage()
	}
	s.logger.Warn("session error",
		slog.String("session_id", s.sessionID),
		slog.String("error", err.Error()))
	return s.sendJSONPriority(protocol.ServerError{Type: "error", Message: msg})
}

func (s *Coordinator) sendSessionEnded(reason string) error {
	return s.sendJSONPriority(protocol.ServerSessionEnded{Type: "session_ended", Reason: reason})
}

func (s *Coordinator) enqueueNormal(frame outboundFrame) error {
	if frame.isTurnAudio && s.isTurnCanceled(frame.turnTag) {
		return nil
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Coordinator) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *Coordinator) cancelTurnAudio(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}

	raw := s.canceledTurns.Load()
	state, ok := raw.(canceledTurnState)
	if !ok {
		state = canceledTurnState{set: make(map[string]struct{}), order: nil}
	}
	if _, exists := state.set[tag]; exists {
		return
	}

	nextSet := make(map[string]struct{}, len(state.set)+1)
	for k := range state.set {
		nextSet[k] = struct{}{}
	}
	nextOrder := make([]string, 0, len(state.order)+1)
	nextOrder = append(nextOrder, state.order...)
	nextOrder = append(nextOrder, tag)
	nextSet[tag] = struct{}{}

	for len(nextOrder) > maxCanceledTurnTags {
		evict := nextOrder[0]
		nextOrder = nextOrder[1:]
		delete(nextSet, evict)
	}

	s.canceledTurns.Store(canceledTurnState{set: nextSet, order: nextOrder})
}

func (s *Coordinator) isTurnCanceled(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	raw := s.canceledTurns.Load()
	state, ok := raw.(canceledTurnState)
	if !ok || state.set == nil {
		return false
	}
	_, exists := state.set[tag]
	return exists
}
