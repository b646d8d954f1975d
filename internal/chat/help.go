package chat

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type helpSection struct {
	name  string
	lines []string
}

var helpSections = []helpSection{
	{
		name: "ask",
		lines: []string{
			"Mention me in a channel or send a DM with your question.",
			"Reply in the answer thread to ask follow-up questions with context.",
		},
	},
	{
		name: "feedback",
		lines: []string{
			"Use the buttons under every answer to rate it.",
			"Helpful boosts the cited documents; the other buttons open a short form and route the issue to the document owner.",
			"Reactions on answers count too: 👍 and 👎 adjust document quality.",
		},
	},
	{
		name: "ingest",
		lines: []string{
			"`create-knowledge <fact>` saves a quick fact to the knowledge base.",
			"`create-doc` opens a form for writing a full document.",
			"`ingest-doc <url>` imports an HTML page or a public Google Doc.",
		},
	},
	{
		name: "admin",
		lines: []string{
			"Content is scored continuously; low-quality documents are deprecated and eventually archived.",
			"Contradiction alerts and repeated negative feedback are escalated to document owners.",
		},
	},
}

var titleCaser = cases.Title(language.English)

// HelpMessage renders the help text. An empty section renders all
// sections; an unknown section lists the available ones.
func HelpMessage(section string) *Message {
	section = strings.ToLower(strings.TrimSpace(section))

	msg := NewMessage("LoreHub help")
	found := false
	for _, s := range helpSections {
		if section != "" && s.name != section {
			continue
		}
		found = true
		msg.AddSection(fmt.Sprintf("*%s*\n%s", titleCaser.String(s.name), strings.Join(s.lines, "\n")))
	}
	if !found {
		msg.AddSection(fmt.Sprintf("Unknown help section %q. Available sections: %s.", section, strings.Join(helpSectionNames(), ", ")))
	}
	return msg
}

func helpSectionNames() []string {
	names := make([]string, len(helpSections))
	for i, s := range helpSections {
		names[i] = s.name
	}
	return names
}
