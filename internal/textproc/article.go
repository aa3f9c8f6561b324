package textproc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ArticleStyle selects the shape of a generated article.
type ArticleStyle string

const (
	StyleBlog       ArticleStyle = "blog"
	StyleNews       ArticleStyle = "news"
	StyleSummary    ArticleStyle = "summary"
	StyleTutorial   ArticleStyle = "tutorial"
	StyleNewsletter ArticleStyle = "newsletter"
)

const articleTemperature = 0.7

// ErrUnknownStyle is returned for a style outside Styles().
var ErrUnknownStyle = errors.New("unknown article style")

// StyleInfo describes one article style for display.
type StyleInfo struct {
	Style       ArticleStyle `json:"style"`
	Name        string       `json:"name"`
	Description string       `json:"description"`

	subject    string
	guidelines string
}

var styles = []StyleInfo{
	{
		Style:       StyleBlog,
		Name:        "Blog Post",
		Description: "Conversational post with headings",
		subject:     "an engaging blog post",
		guidelines:  "- Conversational, first-person plural voice\n- 3 to 5 sections with ## headings\n- Close with a short takeaway",
	},
	{
		Style:       StyleNews,
		Name:        "News Article",
		Description: "Inverted pyramid, neutral tone",
		subject:     "a news article",
		guidelines:  "- Lead paragraph answers who, what, when, where\n- Neutral third-person tone\n- Most important facts first",
	},
	{
		Style:       StyleSummary,
		Name:        "Executive Summary",
		Description: "Key points and decisions",
		subject:     "an executive summary",
		guidelines:  "- One-paragraph overview\n- Bullet list of key points\n- Bullet list of decisions and action items, if any",
	},
	{
		Style:       StyleTutorial,
		Name:        "Tutorial",
		Description: "Step-by-step guide",
		subject:     "a step-by-step tutorial",
		guidelines:  "- Short introduction stating the goal\n- Numbered steps\n- Note any prerequisites mentioned in the transcript",
	},
	{
		Style:       StyleNewsletter,
		Name:        "Newsletter",
		Description: "Brief digest for subscribers",
		subject:     "a newsletter issue",
		guidelines:  "- Friendly greeting\n- Three to five short highlights\n- Keep it under 400 words",
	},
}

// Styles lists the supported article styles.
func Styles() []StyleInfo {
	return append([]StyleInfo(nil), styles...)
}

func lookupStyle(style ArticleStyle) (StyleInfo, error) {
	for _, info := range styles {
		if info.Style == style {
			return info, nil
		}
	}
	return StyleInfo{}, fmt.Errorf("%w: %q", ErrUnknownStyle, style)
}

// Article is a generated draft.
type Article struct {
	Style ArticleStyle `json:"style"`
	Title string       `json:"title"`
	Body  string       `json:"body"`
	Model string       `json:"model,omitempty"`
}

// Markdown renders the article as a Markdown document.
func (a Article) Markdown() string {
	if a.Title == "" {
		return a.Body + "\n"
	}
	return "# " + a.Title + "\n\n" + a.Body + "\n"
}

// ArticleGenerator drafts articles from transcripts. It needs LM Studio;
// there is no local fallback.
type ArticleGenerator struct {
	client *Client
	log    zerolog.Logger
}

// NewArticleGenerator builds a generator on client.
func NewArticleGenerator(client *Client, log zerolog.Logger) *ArticleGenerator {
	return &ArticleGenerator{client: client, log: log}
}

// Generate writes one article in style from text.
func (g *ArticleGenerator) Generate(ctx context.Context, text string, style ArticleStyle, progress ProgressFunc) (Article, error) {
	info, err := lookupStyle(style)
	if err != nil {
		return Article{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Article{}, errors.New("no text to generate an article from")
	}

	report(progress, 0, "Connecting to LM Studio...")
	if !g.client.CheckConnection(ctx) {
		if ctx.Err() != nil {
			return Article{}, ctx.Err()
		}
		return Article{}, fmt.Errorf("%w at %s", ErrUnavailable, g.client.BaseURL())
	}
	model, err := g.client.LoadedModel(ctx)
	if err != nil {
		g.log.Debug().Err(err).Msg("loaded model lookup failed")
	}

	report(progress, 20, fmt.Sprintf("Writing %s...", strings.ToLower(info.Name)))
	out, err := g.client.ChatCompletion(ctx, Completion{
		Prompt:      fmt.Sprintf(articlePromptTemplate, info.subject, info.guidelines, text),
		System:      articleSystemPrompt,
		Temperature: articleTemperature,
	})
	if err != nil {
		return Article{}, err
	}

	title, body := splitTitle(out)
	report(progress, 100, "Article ready")
	return Article{Style: style, Title: title, Body: body, Model: model}, nil
}

// splitTitle takes the first non-empty line as the title, without any
// leading Markdown heading marks.
func splitTitle(out string) (string, string) {
	out = strings.TrimSpace(out)
	first, rest, _ := strings.Cut(out, "\n")
	title := strings.TrimSpace(strings.TrimLeft(first, "# "))
	title = strings.Trim(title, "*")
	return title, strings.TrimSpace(rest)
}
