// Package extractor turns raw page HTML into pollution-free markdown,
// preserving code-block formatting byte-for-byte.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

// Config is the data-driven tuning surface for the extractor; changing the
// pollution pattern set is a config edit, never a code change.
type Config struct {
	// ContentSelector is the CSS selector for the documentation content root.
	ContentSelector string
	// PollutionPatterns are substrings identifying navigation chrome; a
	// line containing any of them is dropped entirely (Stage 2).
	PollutionPatterns []string
	// CaseInsensitivePollutionMatch relaxes Stage 2 matching.
	CaseInsensitivePollutionMatch bool
}

// DefaultConfig mirrors the documentation-site navigation chrome the
// reference deployment filters.
func DefaultConfig() Config {
	return Config{
		ContentSelector: "main, article, .content, #content",
		PollutionPatterns: []string{
			"Skip Navigation",
			"Skip to main content",
			"Search developer",
			"Use the up and down arrow keys",
			"Choose a technology",
			"Choose a language",
			"symbols",
		},
	}
}

var titleLinkLine = regexp.MustCompile(`^(\s*)(#{1,6})\s*\[([^\]]*)\]\([^)]*\)\s*$`)

// Extract runs the full HTML-to-markdown pipeline for one page.
func Extract(html string, baseURL string, cfg Config) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", engmodels.ErrContentNotFound
	}
	if strings.HasPrefix(strings.TrimSpace(html), "<<") {
		return "", engmodels.ErrMalformedHTML
	}

	root, err := selectContentRoot(html, cfg.ContentSelector)
	if err != nil {
		return "", fmt.Errorf("extractor: select content root: %w", err)
	}

	markdown, err := convertToMarkdown(root)
	if err != nil {
		return "", fmt.Errorf("extractor: convert to markdown: %w", err)
	}

	lines := strings.Split(markdown, "\n")
	lines = filterPollutionLines(lines, cfg.PollutionPatterns, cfg.CaseInsensitivePollutionMatch)
	lines = stripImageLines(lines)
	lines = truncateAtSeeAlso(lines)
	lines = rewriteTitleLinks(lines)

	return strings.Join(lines, "\n"), nil
}

// selectContentRoot implements Stage 1: selects the documentation content
// root and excludes navigational chrome tags and social-link anchors.
func selectContentRoot(html, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("header, footer, nav, aside").Remove()
	doc.Find("a.social, a[href*='twitter.com'], a[href*='facebook.com'], a[href*='linkedin.com']").Remove()

	if selector != "" {
		for _, sel := range strings.Split(selector, ",") {
			sel = strings.TrimSpace(sel)
			if sel == "" {
				continue
			}
			selection := doc.Find(sel)
			if selection.Length() > 0 {
				out, err := selection.Html()
				if err != nil {
					continue
				}
				return out, nil
			}
		}
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return "", engmodels.ErrContentNotFound
	}
	out, err := body.Html()
	if err != nil {
		return "", err
	}
	return out, nil
}

// convertToMarkdown delegates to html-to-markdown/v2 with the base,
// commonmark, and table plugins (code blocks survive via commonmark's
// fenced-code handling).
func convertToMarkdown(html string) (string, error) {
	conv := converter.NewConverter(converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	))
	return conv.ConvertString(html)
}

// filterPollutionLines implements Stage 2: drop any line containing a
// configured pollution substring. Leading/trailing whitespace on surviving
// lines is never touched.
func filterPollutionLines(lines []string, patterns []string, caseInsensitive bool) []string {
	if len(patterns) == 0 {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		haystack := line
		needles := patterns
		if caseInsensitive {
			haystack = strings.ToLower(line)
			needles = make([]string, len(patterns))
			for i, p := range patterns {
				needles[i] = strings.ToLower(p)
			}
		}
		if containsAny(haystack, needles) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var imageLine = regexp.MustCompile(`^\s*!\[[^\]]*\]\([^)]*\)\s*$`)

// stripImageLines implements Stage 3: drop lines that are exactly a
// markdown image reference.
func stripImageLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if imageLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// truncateAtSeeAlso implements Stage 4: discard the first line whose text
// case-insensitively contains "see also", and everything after it.
func truncateAtSeeAlso(lines []string) []string {
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), "see also") {
			return lines[:i]
		}
	}
	return lines
}

// rewriteTitleLinks implements Stage 5: `<ws>#{1,6} [TITLE](URL)` becomes
// `<ws><hashes> TITLE`, retaining heading level and indentation.
func rewriteTitleLinks(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if m := titleLinkLine.FindStringSubmatch(line); m != nil {
			out[i] = m[1] + m[2] + " " + m[3]
			continue
		}
		out[i] = line
	}
	return out
}
