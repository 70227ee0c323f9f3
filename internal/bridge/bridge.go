// Package bridge runs the core loop: poll the cloud variable, detect new
// questions, answer them through the AI endpoint, and write the answer
// back. One bridge serves exactly one work; the loop is strictly
// sequential with one remote call in flight at a time.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/stellarlinkco/cloudbridge/internal/ai"
	"github.com/stellarlinkco/cloudbridge/internal/codec"
	"github.com/stellarlinkco/cloudbridge/internal/config"
	"github.com/stellarlinkco/cloudbridge/internal/conn"
	"github.com/stellarlinkco/cloudbridge/internal/notify"
	"github.com/stellarlinkco/cloudbridge/internal/prompt"
	"github.com/stellarlinkco/cloudbridge/internal/remote"
	"github.com/stellarlinkco/cloudbridge/internal/sched"
	"github.com/stellarlinkco/cloudbridge/internal/stats"
)

// ErrFatal is returned when the reconnect limit is reached. The command
// layer turns it into a non-zero exit so the external supervisor
// restarts the process.
var ErrFatal = errors.New("reconnect limit reached")

// RemoteAPI is the slice of the variable store client the loop needs
// (allows mocking in tests).
type RemoteAPI interface {
	Connect(ctx context.Context, workID int64) (*remote.ConnectResult, error)
	GetVariable(ctx context.Context, workID int64, name string) (*remote.Variable, error)
	SetVariable(ctx context.Context, workID int64, name, value, kind string) error
}

// Completer answers one question.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, question string) (*ai.ChatResult, error)
}

// Session identifies the remote work this bridge is attached to. Created
// by a successful connect, replaced wholesale on reconnect.
type Session struct {
	WorkID      int64
	OnlineUsers int
}

// pollState is the loop's private mutable state. Threaded through as a
// struct rather than package globals so there is exactly one writer.
type pollState struct {
	polls         int64
	lastProcessed string
	varType       string
}

// Options for creating a Bridge with custom dependencies (for testing).
type Options struct {
	Remote   RemoteAPI
	AI       Completer
	Recorder *stats.Recorder
	Notifier notify.Notifier
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) bool
}

type Bridge struct {
	cfg      *config.Config
	remote   RemoteAPI
	ai       Completer
	recorder *stats.Recorder
	notifier notify.Notifier
	tracker  *conn.Tracker
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool

	session Session
	state   pollState
}

// New creates a Bridge with real clients built from cfg.
func New(cfg *config.Config) *Bridge {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Bridge with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) *Bridge {
	b := &Bridge{
		cfg:      cfg,
		remote:   opts.Remote,
		ai:       opts.AI,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		tracker:  conn.NewTracker(),
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
	if b.remote == nil {
		b.remote = remote.NewClient(cfg.Remote.BaseURL, cfg.RequestTimeout(), cfg.Remote.MaxRetries)
	}
	if b.ai == nil {
		b.ai = ai.NewClient(ai.Options{
			URL:         cfg.AI.URL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			MaxTokens:   cfg.AI.MaxTokens,
			Temperature: cfg.AI.Temperature,
			MaxRetries:  cfg.Remote.MaxRetries,
			Timeout:     cfg.RequestTimeout(),
		})
	}
	if b.recorder == nil {
		b.recorder = stats.NewRecorder(cfg.Bridge.LogDir)
	}
	if b.notifier == nil {
		b.notifier = notify.FromConfig(cfg.Notify)
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.sleep == nil {
		b.sleep = defaultSleep
	}
	return b
}

func defaultSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run connects to the work and polls until ctx is cancelled (clean exit,
// nil) or the reconnect limit is reached (ErrFatal). A failed initial
// connect is fatal immediately; retry-at-startup belongs to the
// supervisor.
func (b *Bridge) Run(ctx context.Context) error {
	workID := b.cfg.Bridge.WorkID

	b.recorder.MarkStart()
	b.tracker.Connecting()
	res, err := b.remote.Connect(ctx, workID)
	if err != nil {
		return fmt.Errorf("connect work %d: %w", workID, err)
	}
	b.tracker.Connected()
	b.session = Session{WorkID: workID, OnlineUsers: res.OnlineUsers}
	b.recorder.OpenOnlinePeriod()
	b.recorder.Event("SYSTEM", fmt.Sprintf("bridge started - work %d, online users %d", workID, res.OnlineUsers))

	log.Printf("[bridge] connected to work %d, online users: %d", workID, res.OnlineUsers)
	log.Printf("[bridge] polling variable %q (day 3s / evening 5s / night 10s)", b.cfg.Remote.VariableName)
	log.Printf("[bridge] journal: %s", b.recorder.JournalPath())
	log.Printf("[bridge] stats: %s", b.recorder.StatsPath())

	flusher := rcron.New()
	if _, err := flusher.AddFunc("*/5 * * * *", b.flush); err != nil {
		log.Printf("[bridge] register flush job warning: %v", err)
	}
	// First write of the new day, so the snapshot exists under the new
	// date even before the next question or five-minute flush.
	if _, err := flusher.AddFunc("0 0 * * *", b.flush); err != nil {
		log.Printf("[bridge] register rollover job warning: %v", err)
	}
	flusher.Start()
	defer flusher.Stop()

	defer b.finalize()

	for {
		if ctx.Err() != nil {
			return nil
		}
		b.state.polls++
		b.recorder.CountPoll()

		v, err := b.remote.GetVariable(ctx, workID, b.cfg.Remote.VariableName)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if fatal := b.pollFailed(ctx, err); fatal {
				return ErrFatal
			}
			if !b.sleep(ctx, sched.NextInterval(b.now())) {
				return nil
			}
			continue
		}
		b.tracker.PollSuccess()
		b.state.varType = v.Type

		if q, ok := codec.Detect(v.Value, b.cfg.Remote.QuestionPrefix, b.state.lastProcessed); ok {
			if fatal := b.handleQuestion(ctx, q); fatal {
				return ErrFatal
			}
		}

		if !b.sleep(ctx, sched.NextInterval(b.now())) {
			return nil
		}
	}
}

// pollFailed drives the connection tracker for one failed poll and runs
// a reconnect when the failure streak demands it. Reports whether the
// bridge must die.
func (b *Bridge) pollFailed(ctx context.Context, err error) (fatal bool) {
	b.recorder.CountError()
	action := b.tracker.PollFailure()
	log.Printf("[bridge] poll #%d failed (%d/%d consecutive): %v",
		b.state.polls, b.tracker.ConsecutiveFails(), conn.MaxConsecutiveFailures, err)
	if action != conn.ActionReconnect {
		return false
	}
	return b.reconnect(ctx)
}

func (b *Bridge) reconnect(ctx context.Context) (fatal bool) {
	log.Printf("[bridge] failure streak reached, reconnecting to work %d...", b.session.WorkID)

	res, err := b.remote.Connect(ctx, b.session.WorkID)
	if err != nil {
		action := b.tracker.ReconnectResult(false)
		log.Printf("[bridge] reconnect failed (%d/%d): %v",
			b.tracker.ReconnectFailures(), conn.MaxReconnectFailures, err)
		b.recorder.Event("SYSTEM", fmt.Sprintf("reconnect failed: %v", err))
		if action == conn.ActionFatal {
			log.Printf("[bridge] %d consecutive reconnect failures, exiting for supervisor restart", conn.MaxReconnectFailures)
			b.recorder.Event("SYSTEM", "reconnect limit reached, exiting for supervisor restart")
			b.notifier.Notify(fmt.Sprintf("cloudbridge: work %d unreachable, exiting after %d failed reconnects",
				b.session.WorkID, conn.MaxReconnectFailures))
			return true
		}
		return false
	}

	b.tracker.ReconnectResult(true)
	b.session = Session{WorkID: b.session.WorkID, OnlineUsers: res.OnlineUsers}
	b.recorder.OpenOnlinePeriod()
	log.Printf("[bridge] reconnected, online users: %d", res.OnlineUsers)
	b.recorder.Event("SYSTEM", fmt.Sprintf("reconnected - online users %d", res.OnlineUsers))
	b.notifier.Notify(fmt.Sprintf("cloudbridge: work %d reconnected", b.session.WorkID))
	return false
}

// handleQuestion answers one detected question and writes the answer
// back. AI failures become a player-visible error string, never silence.
// The write-back failure path leaves lastProcessed alone so the same
// question is retried end to end on the next poll.
func (b *Bridge) handleQuestion(ctx context.Context, q codec.Question) (fatal bool) {
	log.Printf("[bridge] poll #%d: new question: %s", b.state.polls, q.Text)
	b.recorder.CountQuestion()

	start := b.now()
	result, err := b.ai.Complete(ctx, prompt.Load(b.cfg.AI.SystemPromptFile), q.Text)
	duration := b.now().Sub(start)

	var answer string
	success := err == nil
	if err != nil {
		log.Printf("[bridge] ai call failed: %v", err)
		answer = fmt.Sprintf("[AI error: %v]", err)
		b.recorder.CountFailure()
	} else {
		log.Printf("[bridge] ai answered in %.2fs: %s", duration.Seconds(), truncate(result.Answer, 80))
		answer = result.Answer
		b.recorder.CountSuccess()
	}
	b.recorder.RecordExchange(stats.Exchange{
		Question: q.Text,
		Answer:   answer,
		Success:  success,
		Duration: duration,
	})

	value := codec.FormatAnswer(b.cfg.Remote.AnswerPrefix, answer)
	if err := b.remote.SetVariable(ctx, b.session.WorkID, b.cfg.Remote.VariableName, value, b.state.varType); err != nil {
		log.Printf("[bridge] write answer failed: %v", err)
		b.recorder.CountError()
		if b.tracker.PollFailure() == conn.ActionReconnect {
			if b.reconnect(ctx) {
				return true
			}
		}
	} else {
		b.state.lastProcessed = q.Raw
	}

	b.flush()
	return false
}

func (b *Bridge) flush() {
	log.Printf("[stats] %s", b.recorder.Summary())
	if err := b.recorder.Snapshot(); err != nil {
		log.Printf("[stats] snapshot warning: %v", err)
	}
}

// finalize is the shutdown path shared by clean interrupts and fatal
// exits: close the open online period, stamp end time, write the final
// snapshot and termination event.
func (b *Bridge) finalize() {
	b.recorder.Finalize()
	b.recorder.Event("SYSTEM", "bridge stopped")
	log.Printf("[bridge] stopped after %d polls", b.state.polls)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
