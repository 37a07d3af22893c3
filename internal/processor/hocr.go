package processor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// hocrStats summarises an hOCR document.
type hocrStats struct {
	Pages int
	Lines int
	Words int
}

// inspectHOCR counts the page, line and word elements of an hOCR file.
// Engines that do not emit ocrx_word elements get their words counted from
// the line text instead.
func inspectHOCR(path string) (hocrStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return hocrStats{}, err
	}
	defer f.Close()
	return parseHOCR(f)
}

func parseHOCR(r io.Reader) (hocrStats, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return hocrStats{}, fmt.Errorf("parse hocr: %w", err)
	}

	var stats hocrStats
	lineWords := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, class := range strings.Fields(attr(n, "class")) {
				switch class {
				case "ocr_page":
					stats.Pages++
				case "ocr_line", "ocrx_line":
					stats.Lines++
					lineWords += len(strings.Fields(textContent(n)))
					// Words inside a line are counted by the line.
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						countWords(c, &stats.Words)
					}
					return
				case "ocrx_word":
					stats.Words++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if stats.Words == 0 {
		stats.Words = lineWords
	}
	return stats, nil
}

func countWords(n *html.Node, words *int) {
	if n.Type == html.ElementNode {
		for _, class := range strings.Fields(attr(n, "class")) {
			if class == "ocrx_word" {
				*words++
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		countWords(c, words)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
