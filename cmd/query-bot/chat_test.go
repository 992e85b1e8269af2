// ABOUTME: Tests for the chat loop's answer selection
// ABOUTME: Card saving and /run must pick generated SQL, never the user's question

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/isugar150/query-bot/internal/api"
)

func chatEntries(pairs ...[2]string) []api.Entry {
	var out []api.Entry
	for _, pair := range pairs {
		out = append(out, api.Entry{Role: api.Role(pair[0]), Content: pair[1], CreatedAt: time.Now().UTC()})
	}
	return out
}

func TestLastRunnableAnswer_PicksNewestAssistantSQL(t *testing.T) {
	entries := chatEntries(
		[2]string{"USER", "revenue by month?"},
		[2]string{"ASSISTANT", "SELECT month, SUM(total) FROM orders GROUP BY 1"},
		[2]string{"USER", "and by region?"},
		[2]string{"ASSISTANT", "SELECT region, SUM(total) FROM orders GROUP BY 1"},
	)

	assert.Equal(t, "SELECT region, SUM(total) FROM orders GROUP BY 1", lastRunnableAnswer(entries))
}

func TestLastRunnableAnswer_NeverSelectsUserQuestion(t *testing.T) {
	// The newest entry is the user's question; the card and /run content must
	// come from the assistant's SQL, not from prose the server cannot execute.
	entries := chatEntries(
		[2]string{"ASSISTANT", "SELECT 1"},
		[2]string{"USER", "select the top customers for me please"},
	)

	assert.Equal(t, "SELECT 1", lastRunnableAnswer(entries))
}

func TestLastRunnableAnswer_SkipsProseAnswers(t *testing.T) {
	entries := chatEntries(
		[2]string{"USER", "revenue by month?"},
		[2]string{"ASSISTANT", "WITH monthly AS (SELECT 1) SELECT * FROM monthly"},
		[2]string{"USER", "thanks!"},
		[2]string{"ASSISTANT", "You're welcome! Let me know if you need anything else."},
	)

	assert.Equal(t, "WITH monthly AS (SELECT 1) SELECT * FROM monthly", lastRunnableAnswer(entries))
}

func TestLastRunnableAnswer_NoRunnableContent(t *testing.T) {
	assert.Empty(t, lastRunnableAnswer(nil))
	assert.Empty(t, lastRunnableAnswer(chatEntries(
		[2]string{"USER", "hello"},
		[2]string{"ASSISTANT", "Hi! Which database shall we look at?"},
	)))
	// DML in an answer must not be offered for execution or card saving
	assert.Empty(t, lastRunnableAnswer(chatEntries(
		[2]string{"USER", "clean up the test rows"},
		[2]string{"ASSISTANT", "DELETE FROM orders WHERE test = true"},
	)))
}
