package probe

import (
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// maxTitleScan caps how much HTML is tokenized when looking for <title>.
const maxTitleScan = 64 << 10

// pageTitle returns the <title> of an HTML response. Interception proxies
// usually answer with their own block page, and its title is the quickest
// way to tell one apart from the real site.
func pageTitle(resp *http.Response) string {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ct, "text/html") {
		return ""
	}
	return extractTitle(io.LimitReader(resp.Body, maxTitleScan))
}

func extractTitle(r io.Reader) string {
	z := html.NewTokenizer(r)
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "title":
				inTitle = true
			case "body":
				return ""
			}
		case html.TextToken:
			if inTitle {
				return strings.Join(strings.Fields(string(z.Text())), " ")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "title" || string(name) == "head" {
				return ""
			}
		}
	}
}
