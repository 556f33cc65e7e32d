package query

import (
	"regexp"
	"strings"
	"unicode"
)

const defaultTopic = "the course material"

const defaultGreetingReply = "Hello! I'm your course assistant. How can I help you with the course material today?"

const defaultOutOfScopeTemplate = `I apologize, but I can only answer questions about {{.Topic}}, which is the topic of this course. Your question seems to be about a different topic. Could you please ask a question related to {{.Topic}}?`

const defaultPromptTemplate = `You are a teaching assistant for a course about {{.Topic}}.
Only answer questions related to {{.Topic}}.
If the question is not about {{.Topic}}, respond with: "I apologize, but I can only answer questions about {{.Topic}}, which is the topic of this course. Your question seems to be about a different topic. Could you please ask a question related to {{.Topic}}?"

Based on the following course content, please provide a clear, concise, and comprehensive answer to the question.
Focus on the most relevant information and present it in a well-structured way.

Course Content:
{{.Context}}

Question: {{.Question}}

Please provide a detailed answer that:
1. Directly addresses the question
2. Includes key concepts and definitions
3. Explains important processes or relationships
4. Uses clear, academic language
5. Is well-structured and easy to understand`

// promptData is what the prompt and out-of-scope templates can reference.
type promptData struct {
	Topic    string
	Context  string
	Question string
}

var labelPrefix = regexp.MustCompile(`(?i)^\s*(response|answer|ai|assistant)\s*:\s*`)

// CleanAnswer strips leading "Response:", "Answer:", "AI:" style labels
// models sometimes echo back, plus surrounding whitespace.
func CleanAnswer(s string) string {
	for {
		next := labelPrefix.ReplaceAllString(s, "")
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
}

// IsGreeting reports whether any phrase occurs in question as a run of whole
// words, ignoring case and punctuation. Matching is by whole word rather than
// substring so "this" or "which" never count as "hi".
func IsGreeting(question string, phrases []string) bool {
	words := splitWords(question)
	for _, p := range phrases {
		pw := splitWords(p)
		if len(pw) > 0 && containsRun(words, pw) {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(strings.TrimSpace(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsRun(words, run []string) bool {
	for i := 0; i+len(run) <= len(words); i++ {
		match := true
		for j := range run {
			if words[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
