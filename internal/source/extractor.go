package source

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor turns raw source content into prose for chunking.
type Extractor interface {
	Extract(content string) (string, error)
}

// HTMLExtractor keeps the main-content prose of an HTML page. Content that
// does not look like HTML is returned unchanged.
type HTMLExtractor struct{}

var (
	htmlMarker = regexp.MustCompile(`(?i)<html|<body`)
	spaceRun   = regexp.MustCompile(`\s+`)
)

const (
	// noiseSelector matches elements that never carry article prose.
	noiseSelector = "script, style, noscript, template, nav, header, footer, aside, form, iframe, svg"
	blockSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre, figcaption, td"
)

// mainSelectors are tried in order; body is the fallback.
var mainSelectors = []string{"article", "main", "[role=main]", "body"}

// Extract returns blocks of text separated by blank lines so the chunker
// sees one paragraph per block.
func (HTMLExtractor) Extract(content string) (string, error) {
	if !htmlMarker.MatchString(content) {
		return strings.TrimSpace(content), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	root := doc.Selection
	for _, sel := range mainSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			root = found
			break
		}
	}

	var blocks []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Only leaf blocks, so nested lists and quotes are not emitted twice.
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		if text := collapse(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return collapse(root.Text()), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
