package textproc

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Chunking for long transcripts, in bytes.
const (
	ChunkSize    = 8000
	ChunkOverlap = 500

	cleaningTemperature = 0.3
	boundaryWindow      = 500
)

// ProgressFunc receives a 0-100 percentage local to one operation.
type ProgressFunc func(pct int, msg string)

func report(progress ProgressFunc, pct int, msg string) {
	if progress != nil {
		progress(pct, msg)
	}
}

var (
	fillerPattern = regexp.MustCompile(`(?i)\b(?:uh|um|uhm|er|ah|you know|like|so|well|i mean|kind of|sort of|basically|actually|literally|right|okay so|and so)\b,?`)
	spaceRun      = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeP  = regexp.MustCompile(`\s+([,.!?])`)
)

// CleanedText is the outcome of one cleaning pass.
type CleanedText struct {
	Original       string `json:"original"`
	Cleaned        string `json:"cleaned"`
	RemovedFillers int    `json:"removedFillers"`
	SentencesFixed int    `json:"sentencesFixed"`
	Paragraphs     int    `json:"paragraphs"`
	UsedAI         bool   `json:"usedAi"`
}

// ImprovementRatio is how much shorter the cleaned text is.
func (c CleanedText) ImprovementRatio() float64 {
	if len(c.Original) == 0 {
		return 0
	}
	return 1 - float64(len(c.Cleaned))/float64(len(c.Original))
}

// Completer is the subset of Client used by the text stages.
type Completer interface {
	CheckConnection(ctx context.Context) bool
	ChatCompletion(ctx context.Context, in Completion) (string, error)
}

// Cleaner removes fillers and repairs punctuation.
type Cleaner struct {
	llm Completer
	log zerolog.Logger
}

// NewCleaner builds a cleaner. llm may be nil for heuristic-only cleaning.
func NewCleaner(llm Completer, log zerolog.Logger) *Cleaner {
	return &Cleaner{llm: llm, log: log}
}

// Clean cleans text. With useAI and a reachable server each chunk goes to the
// model; any chunk the model fails on is cleaned locally instead. Only
// cancellation is returned as an error.
func (c *Cleaner) Clean(ctx context.Context, text string, useAI bool, progress ProgressFunc) (CleanedText, error) {
	report(progress, 0, "Starting text cleaning...")

	var (
		cleaned string
		usedAI  bool
		err     error
	)
	if useAI && c.llm != nil && c.llm.CheckConnection(ctx) {
		cleaned, err = c.cleanWithAI(ctx, text, progress)
		if err != nil {
			return CleanedText{}, err
		}
		usedAI = true
	} else {
		if ctx.Err() != nil {
			return CleanedText{}, ctx.Err()
		}
		report(progress, 10, "LM Studio unavailable, using basic cleaning...")
		cleaned = QuickClean(text)
	}

	out := CleanedText{
		Original:       text,
		Cleaned:        cleaned,
		RemovedFillers: CountFillers(text),
		SentencesFixed: max(0, strings.Count(cleaned, ".")-strings.Count(text, ".")),
		Paragraphs:     strings.Count(cleaned, "\n\n") + 1,
		UsedAI:         usedAI,
	}
	report(progress, 100, "Text cleaning complete")
	return out, nil
}

func (c *Cleaner) cleanWithAI(ctx context.Context, text string, progress ProgressFunc) (string, error) {
	chunks := SplitChunks(text)
	if len(chunks) <= 1 {
		report(progress, 20, "Processing with AI...")
	}
	cleaned := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if len(chunks) > 1 {
			report(progress, 20+70*i/len(chunks), fmt.Sprintf("Processing chunk %d/%d...", i+1, len(chunks)))
		}
		out, err := c.llm.ChatCompletion(ctx, Completion{
			Prompt:      fmt.Sprintf(cleaningPromptTemplate, chunk),
			System:      cleaningSystemPrompt,
			Temperature: cleaningTemperature,
		})
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		out = strings.TrimSpace(out)
		if err != nil || out == "" {
			c.log.Warn().Err(err).Int("chunk", i).Msg("AI cleaning failed, using basic cleaning for chunk")
			out = QuickClean(chunk)
		}
		cleaned = append(cleaned, out)
	}
	return strings.Join(cleaned, "\n\n"), nil
}

// QuickClean strips common filler words and tidies whitespace.
func QuickClean(text string) string {
	out := fillerPattern.ReplaceAllString(text, " ")
	out = spaceRun.ReplaceAllString(out, " ")
	out = spaceBeforeP.ReplaceAllString(out, "$1")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// CountFillers counts filler occurrences in text.
func CountFillers(text string) int {
	return len(fillerPattern.FindAllStringIndex(text, -1))
}

// SplitChunks splits text into overlapping chunks of at most ChunkSize
// bytes, preferring to break after a sentence end near the boundary.
func SplitChunks(text string) []string {
	if len(text) <= ChunkSize {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + ChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = sentenceBreak(text, start, end)
		}
		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}
		start = runeStart(text, end-ChunkOverlap)
	}
	return chunks
}

// sentenceBreak looks for a sentence end in the last boundaryWindow bytes
// before end and returns the index just after it.
func sentenceBreak(text string, start, end int) int {
	lo := max(start, end-boundaryWindow)
	window := text[lo:end]
	for _, sep := range []string{". ", ".\n", "? ", "! "} {
		if pos := strings.LastIndex(window, sep); pos >= 0 && lo+pos > start {
			return lo + pos + len(sep)
		}
	}
	return runeStart(text, end)
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
