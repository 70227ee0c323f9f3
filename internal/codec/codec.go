// Package codec turns raw cloud variable values into tagged questions.
// The variable is a shared mailbox: players write prefixed questions into
// it and the bridge writes prefixed answers back, so detection has to
// tell the two apart and never hand the same value downstream twice.
package codec

import "strings"

// Question is a detected, deduplicated question. Raw is the exact
// variable value it came from and is what deduplication compares against;
// Text has the prefix stripped and whitespace trimmed.
type Question struct {
	Raw  string
	Text string
}

// Detect reports a question only when the raw value is non-empty, carries
// the question prefix, and differs from the last value that was already
// turned into an answer. A cleared or non-prefixed value is simply "no
// new question"; it does not reset deduplication.
func Detect(raw, prefix, lastProcessed string) (Question, bool) {
	if raw == "" || !strings.HasPrefix(raw, prefix) {
		return Question{}, false
	}
	if raw == lastProcessed {
		return Question{}, false
	}
	return Question{
		Raw:  raw,
		Text: strings.TrimSpace(strings.TrimPrefix(raw, prefix)),
	}, true
}

// FormatAnswer builds the value written back to the variable.
func FormatAnswer(prefix, answer string) string {
	return prefix + answer
}
