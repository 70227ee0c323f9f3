// Package prompt loads the system prompt sent with every AI call.
package prompt

import (
	"os"
	"strings"
)

// DefaultSystemPrompt is used when no prompt file is configured or the
// configured file is missing or empty.
const DefaultSystemPrompt = `# AI assistant prompt

## Output limits
- Keep every answer under 200 characters
- Answer directly, do not repeat the question

## Role
- You are the in-game AI assistant
- Your users are players of a creative coding project

## Rules
- Answer gameplay questions, common questions, and friendly chat
- Refuse off-topic requests, cheating help, and comparisons with other games
- Be warm and patient with new players`

// Load reads the prompt file at path. It is called before every AI
// request so prompt edits take effect without a restart. Any problem
// falls back to the embedded default.
func Load(path string) string {
	if path == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSystemPrompt
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return DefaultSystemPrompt
	}
	return content
}
