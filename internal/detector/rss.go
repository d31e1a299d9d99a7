package detector

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxFeedBytes = 16 << 20

// RSSFetcher retrieves podcast RSS feeds over HTTP.
type RSSFetcher struct {
	httpClient *http.Client
}

// NewRSSFetcher returns a fetcher with the given client, or a default client
// with a 30 second timeout when nil.
func NewRSSFetcher(client *http.Client) *RSSFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RSSFetcher{httpClient: client}
}

type rssDocument struct {
	Channel struct {
		Title string    `xml:"title"`
		Link  string    `xml:"link"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID      string `xml:"guid"`
	Title     string `xml:"title"`
	PubDate   string `xml:"pubDate"`
	Duration  string `xml:"duration"`
	Enclosure struct {
		URL  string `xml:"url,attr"`
		Type string `xml:"type,attr"`
	} `xml:"enclosure"`
}

// Fetch downloads and parses the feed.
func (f *RSSFetcher) Fetch(ctx context.Context, feedURL string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	feed := &Feed{ChannelName: strings.TrimSpace(doc.Channel.Title)}
	for _, item := range doc.Channel.Items {
		feed.Items = append(feed.Items, FeedItem{
			ExternalID:      strings.TrimSpace(item.GUID),
			Title:           strings.TrimSpace(item.Title),
			AudioURL:        item.Enclosure.URL,
			DurationSeconds: parseDuration(item.Duration),
			PublishedAt:     parsePubDate(item.PubDate),
		})
	}
	return feed, nil
}

// parseDuration accepts the common itunes:duration forms: plain seconds,
// MM:SS, and HH:MM:SS.
func parseDuration(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parts := strings.Split(value, ":")
	if len(parts) == 1 {
		seconds, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0
		}
		return seconds
	}
	var total float64
	for _, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}

func parsePubDate(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
