package fetch

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements never contribute text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Template: true,
}

// minFocusedText is how much text an <article> or <main> element needs
// before it is preferred over the whole body.
const minFocusedText = 200

// extractHTML returns the page title and its readable text. When the
// page marks up its primary content with <article> or <main>, only
// that subtree is used.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", stripTags(raw)
	}

	var focus *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if title == "" {
					title = strings.TrimSpace(textContent(n))
				}
			case atom.Article, atom.Main:
				if focus == nil {
					focus = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if focus != nil {
		var b strings.Builder
		writeText(focus, &b)
		if t := cleanWhitespace(b.String()); len(t) >= minFocusedText {
			return title, t
		}
	}

	var b strings.Builder
	writeText(doc, &b)
	return title, cleanWhitespace(b.String())
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func writeText(n *html.Node, w *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
		if isBlockElement(n.DataAtom) && w.Len() > 0 {
			w.WriteString("\n\n")
		}
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			w.WriteString(t)
			w.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, w)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figcaption, atom.Figure,
		atom.Details, atom.Summary, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of blanks within lines and runs of
// empty lines between them.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// stripTags is the fallback for markup the parser rejects.
func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return cleanWhitespace(b.String())
		case html.TextToken:
			b.Write(z.Text())
			b.WriteString(" ")
		}
	}
}

// Interstitials served instead of content. Only short pages are
// checked: real articles can mention any of these phrases, while
// challenge and paywall pages carry little text of their own.
var blockSignatures = []string{
	"just a moment...",
	"attention required! | cloudflare",
	"checking your browser",
	"verify you are human",
	"are you a robot",
	"unusual traffic from your computer",
	"access denied",
	"captcha",
	"please enable js and disable any ad blocker",
}

var paywallSignatures = []string{
	"subscribe to continue reading",
	"subscribe to read",
	"this article is for subscribers",
	"this content is for subscribers",
	"already a subscriber? sign in",
	"to continue reading, subscribe",
}

// isAccessibleForFree:false in JSON-LD is how publishers declare
// paywalled articles to search engines.
var freeAccessFalse = regexp.MustCompile(`(?i)"isAccessibleForFree"\s*:\s*"?false"?`)

// shortPageText is the most body text an interstitial is expected to
// carry.
const shortPageText = 2000

// detectBlock inspects a successful response for bot walls and
// paywalls.
func detectBlock(title, text, raw string) (blocked, paywall bool) {
	if len(text) >= shortPageText {
		return false, false
	}
	page := strings.ToLower(title + "\n" + text)

	if freeAccessFalse.MatchString(raw) {
		return true, true
	}
	for _, sig := range paywallSignatures {
		if strings.Contains(page, sig) {
			return true, true
		}
	}
	for _, sig := range blockSignatures {
		if strings.Contains(page, sig) {
			return true, false
		}
	}
	return false, false
}
