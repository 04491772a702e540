// Package extract parses section markup into structured records. Field rules
// follow the catalog's stable CSS hooks; everything else in the pipeline
// treats this package as a black box returning a tagged Outcome.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// OutcomeKind tags an extraction result.
type OutcomeKind string

// Extraction outcomes. Success and ExternalRedirect are terminal;
// ParseFailure feeds the recovery retry ladder. Fetch-level failures (404,
// timeouts) never reach the extractor.
const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeExternalRedirect OutcomeKind = "external_redirect"
	OutcomeParseFailure     OutcomeKind = "parse_failure"
)

// Hierarchy is the breadcrumb path of a section. The top-level title is
// expected; intermediate levels are explicitly nullable so consumers can tell
// "this branch has no subchapter" from "extraction missed it".
type Hierarchy struct {
	Title      *string `json:"title"`
	Division   *string `json:"division"`
	Chapter    *string `json:"chapter"`
	Subchapter *string `json:"subchapter"`
	Article    *string `json:"article"`
}

// Record is one extracted section.
type Record struct {
	URL               string    `json:"url"`
	GUID              string    `json:"guid"`
	SectionNumber     string    `json:"section_number,omitempty"`
	SectionTitle      string    `json:"section_title,omitempty"`
	CitationShort     string    `json:"citation_short,omitempty"`
	CitationCanonical string    `json:"citation_canonical,omitempty"`
	Hierarchy         Hierarchy `json:"hierarchy"`
	TextHTML          string    `json:"text_html,omitempty"`
	TextPlain         string    `json:"text_plain,omitempty"`
	CurrencyNotice    string    `json:"currency_notice,omitempty"`
	ExternalURL       string    `json:"external_url,omitempty"`
	ExtractedAt       time.Time `json:"extracted_at"`
}

// Outcome is the tagged result of one extraction attempt.
type Outcome struct {
	Kind   OutcomeKind
	Record *Record
	Reason string
}

// externalHosts identify publishers that serve redirected sub-trees.
var externalHosts = []string{"dgs.ca.gov", "iccsafe.org", "nfpa.org"}

// defaultExternalURL is where the building-standards title lives when the
// page gives no explicit pointer.
const defaultExternalURL = "https://www.dgs.ca.gov/BSC"

var redirectPhrases = []string{
	"redirects to",
	"external site",
	"building standards commission",
}

// Extractor parses section pages.
type Extractor struct {
	now func() time.Time
}

// New builds an Extractor.
func New() *Extractor {
	return &Extractor{now: func() time.Time { return time.Now().UTC() }}
}

// Extract parses markup fetched from url into an Outcome. It never returns an
// error; failures are expressed in the outcome tag so the coordinator can
// route them.
func (e *Extractor) Extract(markup []byte, url string) Outcome {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return Outcome{Kind: OutcomeParseFailure, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	rec := &Record{
		URL:           url,
		GUID:          extractGUID(doc, url),
		SectionNumber: extractSectionNumber(doc),
		SectionTitle:  extractSectionTitle(doc),
		Hierarchy:     extractHierarchy(doc),
		ExtractedAt:   e.now(),
	}

	if external, target := detectExternalRedirect(doc); external {
		rec.ExternalURL = target
		return Outcome{Kind: OutcomeExternalRedirect, Record: rec}
	}

	textHTML, textPlain := extractText(doc)
	if textPlain == "" {
		return Outcome{
			Kind:   OutcomeParseFailure,
			Record: rec,
			Reason: "document text not found",
		}
	}

	rec.TextHTML = textHTML
	rec.TextPlain = textPlain
	rec.CitationShort = extractCitation(doc, rec)
	rec.CitationCanonical = rec.CitationShort
	rec.CurrencyNotice = strings.TrimSpace(doc.Find(".co_currencyNotice").First().Text())
	return Outcome{Kind: OutcomeSuccess, Record: rec}
}

// extractGUID reads the stable document identifier; the hidden input is
// authoritative, the URL path a fallback.
func extractGUID(doc *goquery.Document, url string) string {
	if v, ok := doc.Find(`input[name="documentGuid"]`).First().Attr("value"); ok && v != "" {
		return v
	}
	if idx := strings.Index(url, "Document/"); idx >= 0 {
		guid := url[idx+len("Document/"):]
		if q := strings.IndexByte(guid, '?'); q >= 0 {
			guid = guid[:q]
		}
		return guid
	}
	return ""
}

// extractSectionNumber pulls the "§ 1234" prefix off the page title.
func extractSectionNumber(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find(".co_title").First().Text())
	if title == "" {
		return ""
	}
	if strings.Contains(title, "§") && strings.Contains(title, ".") {
		return strings.TrimSpace(strings.SplitN(title, ".", 2)[0])
	}
	if strings.Contains(title, "§") {
		words := strings.Fields(title)
		for i, w := range words {
			if strings.Contains(w, "§") && i+1 < len(words) {
				return w + " " + words[i+1]
			}
		}
	}
	return ""
}

// extractSectionTitle is the remainder of the page title after the number.
func extractSectionTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find(".co_title").First().Text())
	if title == "" {
		return ""
	}
	if strings.Contains(title, "§") && strings.Contains(title, ".") {
		parts := strings.SplitN(title, ".", 2)
		if len(parts) > 1 {
			return strings.TrimSpace(parts[1])
		}
	}
	return title
}

func extractCitation(doc *goquery.Document, rec *Record) string {
	if cite := strings.TrimSpace(doc.Find(".co_citeString").First().Text()); cite != "" {
		return cite
	}
	// Reconstruct from the hierarchy when the cite string is absent.
	if rec.SectionNumber != "" && rec.Hierarchy.Title != nil {
		titleNum := strings.TrimSpace(strings.TrimPrefix(strings.SplitN(*rec.Hierarchy.Title, ".", 2)[0], "Title"))
		if titleNum != "" {
			return fmt.Sprintf("%s CCR %s", titleNum, rec.SectionNumber)
		}
	}
	return ""
}

func extractHierarchy(doc *goquery.Document) Hierarchy {
	var h Hierarchy
	doc.Find(".co_breadcrumb a").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		switch {
		case strings.HasPrefix(text, "Title"):
			h.Title = &text
		case strings.Contains(text, "Division"):
			h.Division = &text
		case strings.Contains(text, "Subchapter"):
			h.Subchapter = &text
		case strings.Contains(text, "Chapter"):
			h.Chapter = &text
		case strings.Contains(text, "Article"):
			h.Article = &text
		}
	})
	return h
}

func extractText(doc *goquery.Document) (string, string) {
	sel := doc.Find(".co_docText").First()
	if sel.Length() == 0 {
		return "", ""
	}
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		html = ""
	}
	return html, strings.TrimSpace(sel.Text())
}

// detectExternalRedirect spots pages whose content lives with an external
// publisher. Such pages are a first-class terminal outcome, not a failure.
func detectExternalRedirect(doc *goquery.Document) (bool, string) {
	target := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		for _, host := range externalHosts {
			if strings.Contains(href, host) {
				target = href
				return false
			}
		}
		return true
	})
	if target != "" {
		return true, target
	}

	pageText := strings.ToLower(doc.Text())
	for _, phrase := range redirectPhrases {
		if strings.Contains(pageText, phrase) {
			return true, defaultExternalURL
		}
	}
	return false, ""
}
