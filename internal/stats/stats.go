// Package stats accumulates bridge telemetry and persists it as a daily
// append-only event journal plus a daily JSON snapshot. Counters are
// mutated only by the bridge loop; the mutex exists so the periodic
// flush job can snapshot from its own goroutine.
package stats

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"
)

// Exchange is one question/answer pair. It is a value recorded into the
// journal, never retained.
type Exchange struct {
	Question string
	Answer   string
	Success  bool
	Duration time.Duration
}

type period struct {
	start time.Time
	end   time.Time // zero while the period is open
}

type Recorder struct {
	mu  sync.Mutex
	dir string
	now func() time.Time // injectable for tests

	startTime time.Time
	endTime   time.Time

	totalPolls        int64
	totalQuestions    int64
	successfulAnswers int64
	failedAnswers     int64
	totalErrors       int64

	onlinePeriods []period
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir, now: time.Now}
}

// MarkStart stamps the process start time.
func (r *Recorder) MarkStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.now()
}

// OpenOnlinePeriod records the beginning of a connected interval. Periods
// opened on reconnect stay open until shutdown; only Finalize closes them.
func (r *Recorder) OpenOnlinePeriod() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onlinePeriods = append(r.onlinePeriods, period{start: r.now()})
}

func (r *Recorder) CountPoll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalPolls++
}

func (r *Recorder) CountQuestion() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalQuestions++
}

func (r *Recorder) CountSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successfulAnswers++
}

func (r *Recorder) CountFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedAnswers++
}

func (r *Recorder) CountError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalErrors++
}

// Finalize stamps the end time, closes the last open online period, and
// writes a final snapshot. Called exactly once, on shutdown.
func (r *Recorder) Finalize() {
	r.mu.Lock()
	now := r.now()
	r.endTime = now
	if n := len(r.onlinePeriods); n > 0 && r.onlinePeriods[n-1].end.IsZero() {
		r.onlinePeriods[n-1].end = now
	}
	r.mu.Unlock()

	if err := r.Snapshot(); err != nil {
		log.Printf("[stats] final snapshot warning: %v", err)
	}
}

type snapshotPeriod struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type snapshot struct {
	Date              string           `json:"date"`
	StartTime         string           `json:"start_time,omitempty"`
	EndTime           string           `json:"end_time,omitempty"`
	TotalPolls        int64            `json:"total_polls"`
	TotalQuestions    int64            `json:"total_questions"`
	SuccessfulAnswers int64            `json:"successful_answers"`
	FailedAnswers     int64            `json:"failed_answers"`
	TotalErrors       int64            `json:"total_errors"`
	UptimeSeconds     int64            `json:"uptime_seconds"`
	OnlinePeriods     []snapshotPeriod `json:"online_periods"`
}

// Snapshot writes the current counters to stats_YYYY-MM-DD.json. Safe to
// call from the periodic flush goroutine.
func (r *Recorder) Snapshot() error {
	r.mu.Lock()
	s := snapshot{
		Date:              r.now().Format(dateLayout),
		TotalPolls:        r.totalPolls,
		TotalQuestions:    r.totalQuestions,
		SuccessfulAnswers: r.successfulAnswers,
		FailedAnswers:     r.failedAnswers,
		TotalErrors:       r.totalErrors,
		UptimeSeconds:     int64(r.uptimeLocked().Seconds()),
		OnlinePeriods:     make([]snapshotPeriod, 0, len(r.onlinePeriods)),
	}
	if !r.startTime.IsZero() {
		s.StartTime = r.startTime.Format(timeLayout)
	}
	if !r.endTime.IsZero() {
		s.EndTime = r.endTime.Format(timeLayout)
	}
	for _, p := range r.onlinePeriods {
		sp := snapshotPeriod{Start: p.start.Format(timeLayout)}
		if !p.end.IsZero() {
			sp.End = p.end.Format(timeLayout)
		}
		s.OnlinePeriods = append(s.OnlinePeriods, sp)
	}
	path := r.statsPathLocked()
	r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Summary renders the counters for the periodic stats log line.
func (r *Recorder) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	successRate := 0.0
	if r.totalQuestions > 0 {
		successRate = float64(r.successfulAnswers) / float64(r.totalQuestions) * 100
	}
	return fmt.Sprintf("uptime=%s polls=%d questions=%d ok=%d failed=%d errors=%d success_rate=%.1f%%",
		formatUptime(r.uptimeLocked()), r.totalPolls, r.totalQuestions,
		r.successfulAnswers, r.failedAnswers, r.totalErrors, successRate)
}

func (r *Recorder) uptimeLocked() time.Duration {
	if r.startTime.IsZero() {
		return 0
	}
	end := r.endTime
	if end.IsZero() {
		end = r.now()
	}
	return end.Sub(r.startTime)
}

func formatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	return fmt.Sprintf("%dh%dm%ds", secs/3600, (secs%3600)/60, secs%60)
}

// Event appends one timestamped line to the daily journal.
func (r *Recorder) Event(level, message string) {
	r.mu.Lock()
	line := fmt.Sprintf("[%s] [%s] %s\n", r.now().Format(timeLayout), level, message)
	path := r.journalPathLocked()
	r.mu.Unlock()

	r.append(path, line)
}

// RecordExchange appends a framed question/answer record to the journal.
func (r *Recorder) RecordExchange(ex Exchange) {
	r.mu.Lock()
	status := "ok"
	if !ex.Success {
		status = "failed"
	}
	frame := strings.Repeat("=", 60)
	record := fmt.Sprintf("\n%s\ntime: %s\nstatus: %s\nduration: %.2fs\nquestion: %s\nanswer: %s\n%s\n",
		frame, r.now().Format(timeLayout), status, ex.Duration.Seconds(), ex.Question, ex.Answer, frame)
	path := r.journalPathLocked()
	r.mu.Unlock()

	r.append(path, record)
}

func (r *Recorder) append(path, text string) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		log.Printf("[stats] create log dir warning: %v", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[stats] open journal warning: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		log.Printf("[stats] write journal warning: %v", err)
	}
}

// Paths carry the current date so a bridge that runs past midnight
// starts writing into the next day's files on its own.
func (r *Recorder) journalPathLocked() string {
	return filepath.Join(r.dir, fmt.Sprintf("ai_bridge_%s.log", r.now().Format(dateLayout)))
}

func (r *Recorder) statsPathLocked() string {
	return filepath.Join(r.dir, fmt.Sprintf("stats_%s.json", r.now().Format(dateLayout)))
}

// JournalPath is the journal file for today, for startup logging.
func (r *Recorder) JournalPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.journalPathLocked()
}

// StatsPath is the snapshot file for today, for startup logging.
func (r *Recorder) StatsPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsPathLocked()
}
