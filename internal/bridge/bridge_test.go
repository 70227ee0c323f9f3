package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/cloudbridge/internal/ai"
	"github.com/stellarlinkco/cloudbridge/internal/config"
	"github.com/stellarlinkco/cloudbridge/internal/remote"
	"github.com/stellarlinkco/cloudbridge/internal/stats"
)

type getResult struct {
	value string
	kind  string
	err   error
}

type setCall struct {
	value string
	kind  string
}

// fakeRemote plays back scripted results; the last element of each
// sequence repeats forever.
type fakeRemote struct {
	connectErrs  []error
	connectCalls int
	onlineUsers  int
	gets         []getResult
	getCalls     int
	setErrs      []error
	setCalls     []setCall
}

func pick[T any](seq []T, n int) T {
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n]
}

func (f *fakeRemote) Connect(ctx context.Context, workID int64) (*remote.ConnectResult, error) {
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		if err := pick(f.connectErrs, f.connectCalls-1); err != nil {
			return nil, err
		}
	}
	return &remote.ConnectResult{OnlineUsers: f.onlineUsers}, nil
}

func (f *fakeRemote) GetVariable(ctx context.Context, workID int64, name string) (*remote.Variable, error) {
	f.getCalls++
	g := pick(f.gets, f.getCalls-1)
	if g.err != nil {
		return nil, g.err
	}
	return &remote.Variable{Name: name, Value: g.value, Type: g.kind}, nil
}

func (f *fakeRemote) SetVariable(ctx context.Context, workID int64, name, value, kind string) error {
	var err error
	if len(f.setErrs) > 0 {
		err = pick(f.setErrs, len(f.setCalls))
	}
	f.setCalls = append(f.setCalls, setCall{value: value, kind: kind})
	return err
}

type fakeAI struct {
	answer string
	err    error
	calls  int
}

func (f *fakeAI) Complete(ctx context.Context, systemPrompt, question string) (*ai.ChatResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ai.ChatResult{Answer: f.answer, Model: "fake"}, nil
}

type fakeNotifier struct {
	msgs []string
}

func (f *fakeNotifier) Notify(msg string) {
	f.msgs = append(f.msgs, msg)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Remote.BaseURL = "http://remote.test"
	cfg.AI.URL = "http://ai.test"
	cfg.AI.APIKey = "k"
	cfg.Bridge.WorkID = 123456
	cfg.Bridge.LogDir = t.TempDir()
	return cfg
}

// budgetSleep returns a sleep func that allows n pauses and then reports
// cancellation, ending the run loop the way an interrupt would.
func budgetSleep(n int) func(context.Context, time.Duration) bool {
	return func(ctx context.Context, d time.Duration) bool {
		n--
		return n >= 0
	}
}

func newTestBridge(t *testing.T, cfg *config.Config, r *fakeRemote, a *fakeAI, polls int) (*Bridge, *fakeNotifier) {
	t.Helper()
	n := &fakeNotifier{}
	b := NewWithOptions(cfg, Options{
		Remote:   r,
		AI:       a,
		Recorder: stats.NewRecorder(cfg.Bridge.LogDir),
		Notifier: n,
		Sleep:    budgetSleep(polls),
	})
	return b, n
}

func TestRun_AnswersNewQuestion(t *testing.T) {
	cfg := testConfig(t)
	rem := &fakeRemote{
		onlineUsers: 5,
		gets:        []getResult{{value: "QWQ~~~hello", kind: "public"}},
	}
	aiClient := &fakeAI{answer: "hi!"}
	b, _ := newTestBridge(t, cfg, rem, aiClient, 3)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(rem.setCalls) != 1 {
		t.Fatalf("setCalls = %d, want 1", len(rem.setCalls))
	}
	if rem.setCalls[0].value != "OKOKOK~~~hi!" {
		t.Errorf("written value = %q, want 'OKOKOK~~~hi!'", rem.setCalls[0].value)
	}
	if rem.setCalls[0].kind != "public" {
		t.Errorf("written type = %q, want variable's own type", rem.setCalls[0].kind)
	}
	// The same raw value polled again and again must not produce a
	// second exchange.
	if aiClient.calls != 1 {
		t.Errorf("ai calls = %d, want 1 (dedup across polls)", aiClient.calls)
	}
	if b.state.lastProcessed != "QWQ~~~hello" {
		t.Errorf("lastProcessed = %q, want raw question value", b.state.lastProcessed)
	}
}

func TestRun_NoQuestionNoAICalls(t *testing.T) {
	cfg := testConfig(t)
	rem := &fakeRemote{gets: []getResult{{value: "OKOKOK~~~old answer"}}}
	aiClient := &fakeAI{answer: "unused"}
	b, _ := newTestBridge(t, cfg, rem, aiClient, 3)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if aiClient.calls != 0 {
		t.Errorf("ai calls = %d, want 0", aiClient.calls)
	}
	if len(rem.setCalls) != 0 {
		t.Errorf("setCalls = %d, want 0", len(rem.setCalls))
	}
}

func TestRun_AIFailureWritesErrorPlaceholder(t *testing.T) {
	cfg := testConfig(t)
	rem := &fakeRemote{gets: []getResult{{value: "QWQ~~~hello", kind: "public"}}}
	aiClient := &fakeAI{err: errors.New("model exploded")}
	b, _ := newTestBridge(t, cfg, rem, aiClient, 2)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(rem.setCalls) == 0 {
		t.Fatal("expected a placeholder answer to be written")
	}
	got := rem.setCalls[0].value
	if !strings.HasPrefix(got, "OKOKOK~~~[AI error:") {
		t.Errorf("written value = %q, want prefixed error placeholder", got)
	}
	// The write succeeded, so the question counts as handled.
	if b.state.lastProcessed != "QWQ~~~hello" {
		t.Errorf("lastProcessed = %q, want raw value advanced", b.state.lastProcessed)
	}
}

func TestRun_WriteFailureRetriesSameQuestion(t *testing.T) {
	cfg := testConfig(t)
	rem := &fakeRemote{
		gets:    []getResult{{value: "QWQ~~~hello", kind: "public"}},
		setErrs: []error{errors.New("write failed"), nil},
	}
	aiClient := &fakeAI{answer: "hi!"}
	b, _ := newTestBridge(t, cfg, rem, aiClient, 3)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	// Failed write leaves lastProcessed alone, so the unchanged raw value
	// is detected again and the whole exchange reruns (at the cost of a
	// second AI call).
	if aiClient.calls != 2 {
		t.Errorf("ai calls = %d, want 2", aiClient.calls)
	}
	if len(rem.setCalls) != 2 {
		t.Errorf("setCalls = %d, want 2", len(rem.setCalls))
	}
	if b.state.lastProcessed != "QWQ~~~hello" {
		t.Errorf("lastProcessed = %q, want advanced after successful write", b.state.lastProcessed)
	}
}

func TestRun_ReconnectAfterThreeFailures(t *testing.T) {
	cfg := testConfig(t)
	pollErr := errors.New("store unreachable")
	rem := &fakeRemote{
		gets: []getResult{
			{err: pollErr}, {err: pollErr}, {err: pollErr},
			{value: ""},
		},
	}
	b, n := newTestBridge(t, cfg, rem, &fakeAI{}, 5)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v (reconnect succeeded, must not be fatal)", err)
	}
	// Exactly one reconnect: startup connect + one recovery connect.
	if rem.connectCalls != 2 {
		t.Errorf("connectCalls = %d, want 2", rem.connectCalls)
	}
	if b.tracker.ConsecutiveFails() != 0 {
		t.Errorf("consecutiveFails = %d, want 0 after recovery", b.tracker.ConsecutiveFails())
	}
	found := false
	for _, m := range n.msgs {
		if strings.Contains(m, "reconnected") {
			found = true
		}
	}
	if !found {
		t.Error("expected a reconnect alert")
	}
}

func TestRun_FatalAfterThreeReconnectFailures(t *testing.T) {
	cfg := testConfig(t)
	rem := &fakeRemote{
		connectErrs: []error{nil, errors.New("connect refused")},
		gets:        []getResult{{err: errors.New("store unreachable")}},
	}
	b, n := newTestBridge(t, cfg, rem, &fakeAI{}, 20)

	err := b.Run(context.Background())
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("Run error = %v, want ErrFatal", err)
	}
	// Startup connect plus exactly three failed reconnects, then no more.
	if rem.connectCalls != 4 {
		t.Errorf("connectCalls = %d, want 4", rem.connectCalls)
	}

	fatalAlert := false
	for _, m := range n.msgs {
		if strings.Contains(m, "exiting") {
			fatalAlert = true
		}
	}
	if !fatalAlert {
		t.Error("expected a fatal-exit alert")
	}

	// The final snapshot must exist with end_time set and the online
	// period closed.
	path := filepath.Join(cfg.Bridge.LogDir, fmt.Sprintf("stats_%s.json", time.Now().Format("2006-01-02")))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read final snapshot: %v", err)
	}
	var s map[string]any
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("parse final snapshot: %v", err)
	}
	if s["end_time"] == nil || s["end_time"] == "" {
		t.Error("end_time not set in final snapshot")
	}
	periods := s["online_periods"].([]any)
	if len(periods) == 0 {
		t.Fatal("no online periods recorded")
	}
	last := periods[len(periods)-1].(map[string]any)
	if last["end"] == nil || last["end"] == "" {
		t.Error("last online period not closed")
	}
}

func TestRun_StartupConnectFailureIsImmediatelyFatal(t *testing.T) {
	cfg := testConfig(t)
	rem := &fakeRemote{connectErrs: []error{errors.New("connect refused")}}
	b, _ := newTestBridge(t, cfg, rem, &fakeAI{}, 5)

	err := b.Run(context.Background())
	if err == nil {
		t.Fatal("expected startup connect failure to surface")
	}
	if rem.connectCalls != 1 {
		t.Errorf("connectCalls = %d, want 1 (no retry loop at startup)", rem.connectCalls)
	}
	if rem.getCalls != 0 {
		t.Errorf("getCalls = %d, want 0", rem.getCalls)
	}
}

func TestRun_CancelledContextExitsCleanly(t *testing.T) {
	cfg := testConfig(t)
	rem := &fakeRemote{gets: []getResult{{value: ""}}}
	b := NewWithOptions(cfg, Options{
		Remote:   rem,
		AI:       &fakeAI{},
		Recorder: stats.NewRecorder(cfg.Bridge.LogDir),
		Notifier: &fakeNotifier{},
		Sleep:    defaultSleep,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run error = %v, want nil on interrupt", err)
	}
}
