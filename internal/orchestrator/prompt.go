package orchestrator

import (
	"fmt"
	"strings"

	"lorehub/pkg/types"
)

const (
	maxPromptTurns    = 6
	maxTurnChars      = 500
	maxContextChars   = 1000
	answerPreamble    = "You are a knowledge assistant answering questions from the team's internal documentation. Answer using only the numbered context documents below. Cite documents by their number. If the context does not contain the answer, say so plainly instead of guessing."
	fallbackAnswerFmt = "I found %d relevant documents but couldn't generate an answer right now. Please try again later."
	noResultsAnswer   = "I couldn't find anything in the knowledge base about that. Try rephrasing, or ask the document owners directly."
	unavailableAnswer = "Knowledge base is temporarily unavailable."
)

// buildPrompt assembles the generation prompt: preamble, recent thread
// turns, numbered context documents, then the question.
func buildPrompt(question string, history []threadTurn, results []types.ScoredChunk) string {
	var b strings.Builder
	b.WriteString(answerPreamble)
	b.WriteString("\n\n")

	if len(history) > maxPromptTurns {
		history = history[len(history)-maxPromptTurns:]
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, trimTo(turn.Text, maxTurnChars))
		}
		b.WriteString("\n")
	}

	b.WriteString("Context documents:\n")
	for i, r := range results {
		header := r.Chunk.PageTitle
		if r.Chunk.URL != "" {
			header = fmt.Sprintf("%s (%s)", r.Chunk.PageTitle, r.Chunk.URL)
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, header, trimTo(r.Chunk.Content, maxContextChars))
	}

	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

func trimTo(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// sourceLines renders the context-block source list shown under answers.
func sourceLines(results []types.ScoredChunk) []string {
	lines := make([]string, 0, len(results))
	for i, r := range results {
		if r.Chunk.URL != "" {
			lines = append(lines, fmt.Sprintf("[%d] <%s|%s>", i+1, r.Chunk.URL, r.Chunk.PageTitle))
		} else {
			lines = append(lines, fmt.Sprintf("[%d] %s", i+1, r.Chunk.PageTitle))
		}
	}
	return lines
}
