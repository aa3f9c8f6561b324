package textproc

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	topicShiftMarker      = "[TOPIC SHIFT]"
	sentencesPerParagraph = 4
	minSentenceLength     = 10
	coherenceTemperature  = 0.3
)

var topicShiftOpeners = []string{"however", "but", "now", "another", "moving on", "next"}

// CoherentText is text split into paragraphs with detected topic shifts.
type CoherentText struct {
	Text        string   `json:"text"`
	Paragraphs  []string `json:"paragraphs"`
	TopicShifts []int    `json:"topicShifts"`
	UsedAI      bool     `json:"usedAi"`
}

// Coherence groups cleaned text into paragraphs.
type Coherence struct {
	llm Completer
	log zerolog.Logger
}

// NewCoherence builds a structuring stage. llm may be nil.
func NewCoherence(llm Completer, log zerolog.Logger) *Coherence {
	return &Coherence{llm: llm, log: log}
}

// Process structures text. Without a reachable server, sentences are grouped
// four to a paragraph.
func (c *Coherence) Process(ctx context.Context, text string, useAI bool, progress ProgressFunc) (CoherentText, error) {
	report(progress, 0, "Analyzing text structure...")

	structured := ""
	usedAI := false
	if useAI && c.llm != nil && c.llm.CheckConnection(ctx) {
		report(progress, 30, "Organizing paragraphs with AI...")
		out, err := c.llm.ChatCompletion(ctx, Completion{
			Prompt:      fmt.Sprintf(coherencePromptTemplate, text),
			System:      coherenceSystemPrompt,
			Temperature: coherenceTemperature,
		})
		if ctx.Err() != nil {
			return CoherentText{}, ctx.Err()
		}
		if err != nil || strings.TrimSpace(out) == "" {
			c.log.Warn().Err(err).Msg("AI structuring failed, keeping text as is")
			structured = text
		} else {
			structured = out
			usedAI = true
		}
	} else {
		if ctx.Err() != nil {
			return CoherentText{}, ctx.Err()
		}
		structured = SplitParagraphs(text)
	}

	result := parseParagraphs(structured)
	result.UsedAI = usedAI
	report(progress, 100, "Structure analysis complete")
	return result, nil
}

// parseParagraphs splits on blank lines and records topic shifts, either
// marked explicitly or opened by a transition word.
func parseParagraphs(text string) CoherentText {
	var paragraphs []string
	var shifts []int
	for _, raw := range strings.Split(text, "\n\n") {
		para := strings.TrimSpace(raw)
		if para == "" {
			continue
		}
		if strings.Contains(para, topicShiftMarker) || opensTopicShift(para) {
			shifts = append(shifts, len(paragraphs))
			para = strings.TrimSpace(strings.ReplaceAll(para, topicShiftMarker, ""))
		}
		paragraphs = append(paragraphs, para)
	}
	return CoherentText{
		Text:        strings.Join(paragraphs, "\n\n"),
		Paragraphs:  paragraphs,
		TopicShifts: shifts,
	}
}

func opensTopicShift(para string) bool {
	lower := strings.ToLower(para)
	for _, word := range topicShiftOpeners {
		rest, ok := strings.CutPrefix(lower, word)
		if !ok {
			continue
		}
		next, _ := utf8.DecodeRuneInString(rest)
		if rest == "" || !unicode.IsLetter(next) {
			return true
		}
	}
	return false
}

// SplitParagraphs groups sentences four to a paragraph. A terminator only
// ends a sentence once it is longer than ten characters, so abbreviations
// like "Dr." stay attached.
func SplitParagraphs(text string) string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if strings.ContainsRune(".!?", r) && current.Len() > minSentenceLength {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}

	var paragraphs []string
	for i := 0; i < len(sentences); i += sentencesPerParagraph {
		end := min(i+sentencesPerParagraph, len(sentences))
		paragraphs = append(paragraphs, strings.Join(sentences[i:end], " "))
	}
	return strings.Join(paragraphs, "\n\n")
}
