// Package autopost implements the recurring content-import workflow: poll an
// external feed, detect the newest item past the stored watermark, optionally
// generate content and imagery for it, and schedule posts for the rule's
// target integrations.
package autopost

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// FeedItem is the newest entry discovered at a source URL
type FeedItem struct {
	Title string
	URL   string
}

// FeedFetcher resolves the latest item of an RSS, Atom, or plain HTML source
type FeedFetcher struct {
	client *http.Client
}

// NewFeedFetcher creates a fetcher. A nil client selects a 30s-timeout default.
func NewFeedFetcher(client *http.Client) *FeedFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedFetcher{client: client}
}

// rssFeed covers RSS 2.0 documents
type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
			Link  string `xml:"link"`
		} `xml:"item"`
	} `xml:"channel"`
}

// atomFeed covers Atom documents, whose links are attributes
type atomFeed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		Title string `xml:"title"`
		Links []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

var htmlTitleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Latest fetches the source and returns its newest item. RSS and Atom
// documents use their first entry; anything else falls back to treating the
// page itself as the item, titled from its <title> tag.
func (f *FeedFetcher) Latest(ctx context.Context, url string) (*FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "publora-autopost/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed %s: %w", url, err)
	}

	if item := parseRSS(body); item != nil {
		return item, nil
	}
	if item := parseAtom(body); item != nil {
		return item, nil
	}
	return parseHTML(body, url)
}

func parseRSS(body []byte) *FeedItem {
	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil || len(feed.Channel.Items) == 0 {
		return nil
	}
	first := feed.Channel.Items[0]
	if first.Link == "" {
		return nil
	}
	return &FeedItem{Title: strings.TrimSpace(first.Title), URL: strings.TrimSpace(first.Link)}
}

func parseAtom(body []byte) *FeedItem {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil || len(feed.Entries) == 0 {
		return nil
	}
	first := feed.Entries[0]
	href := ""
	for _, l := range first.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			href = l.Href
			break
		}
	}
	if href == "" && len(first.Links) > 0 {
		href = first.Links[0].Href
	}
	if href == "" {
		return nil
	}
	return &FeedItem{Title: strings.TrimSpace(first.Title), URL: strings.TrimSpace(href)}
}

func parseHTML(body []byte, url string) (*FeedItem, error) {
	m := htmlTitleRe.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("page %s has no recognizable feed or title", url)
	}
	return &FeedItem{Title: strings.TrimSpace(string(m[1])), URL: url}, nil
}
