package scraper

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

const (
	linkPrefix     = "t3_"
	deletedMarker  = "[deleted]"
	removedMarker  = "[removed]"
	maxInfoBatch   = 100
	maxListingSize = 100
)

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string `json:"kind"`
	Data link   `json:"data"`
}

// link is the subset of a Reddit submission the monitor reads.
type link struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Title             string  `json:"title"`
	Selftext          string  `json:"selftext"`
	SelftextHTML      *string `json:"selftext_html"`
	Author            string  `json:"author"`
	CreatedUTC        float64 `json:"created_utc"`
	Score             int     `json:"score"`
	NumComments       int     `json:"num_comments"`
	LinkFlairText     *string `json:"link_flair_text"`
	RemovedByCategory *string `json:"removed_by_category"`
}

func (l link) snapshot() models.PostSnapshot {
	s := models.PostSnapshot{
		ID:          l.ID,
		Title:       strings.TrimSpace(l.Title),
		Body:        l.body(),
		Author:      l.Author,
		CreatedAt:   epochToTime(l.CreatedUTC),
		Score:       l.Score,
		NumComments: l.NumComments,
	}
	if s.ID == "" {
		s.ID = strings.TrimPrefix(l.Name, linkPrefix)
	}
	if s.Author == deletedMarker {
		s.Author = ""
	}
	if l.LinkFlairText != nil {
		s.Flair = *l.LinkFlairText
	}
	s.RemovalCategory = l.removalHint()
	return s
}

// body prefers the rendered HTML so markdown syntax does not leak into ticker extraction.
func (l link) body() string {
	text := strings.TrimSpace(l.Selftext)
	if text == removedMarker || text == deletedMarker {
		return ""
	}
	if l.SelftextHTML == nil || *l.SelftextHTML == "" {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(*l.SelftextHTML))
	if err != nil {
		slog.Debug("Falling back to markdown body", "id", l.ID, "error", err)
		return text
	}
	return strings.TrimSpace(doc.Text())
}

func (l link) removalHint() string {
	if l.RemovedByCategory != nil && *l.RemovedByCategory != "" {
		return *l.RemovedByCategory
	}
	switch strings.TrimSpace(l.Selftext) {
	case removedMarker:
		return "moderator"
	case deletedMarker:
		return "deleted"
	}
	return ""
}

func epochToTime(secs float64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(math.Round(secs * 1e6)))
}
