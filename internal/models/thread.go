package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DeletedAuthor is stored when the source no longer exposes the author of a post.
const DeletedAuthor = "[Deleted]"

// GenericRemovalCategory is used when a post vanished from the source without a more specific hint.
const GenericRemovalCategory = "MOD_OR_USER_REMOVED"

var (
	// ErrThreadNotFound is returned when a transition targets an unknown thread.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrInvalidTransition is returned when a transition would skip or reverse a lifecycle state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrStoreUnavailable marks store failures that are expected to clear after reconnecting.
	ErrStoreUnavailable = errors.New("thread store unavailable")
	// ErrSourceUnavailable marks rate limits and transient content-source failures.
	ErrSourceUnavailable = errors.New("content source unavailable")
	// ErrDeliveryFailed marks a report that no emitter managed to deliver.
	ErrDeliveryFailed = errors.New("report delivery failed")
)

// Status is the lifecycle state of a thread.
type Status int

const (
	StatusActive Status = iota
	StatusRemoved
	StatusAnalyzed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusRemoved:
		return "REMOVED"
	case StatusAnalyzed:
		return "ANALYZED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus converts the persisted representation back into a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACTIVE":
		return StatusActive, nil
	case "REMOVED":
		return StatusRemoved, nil
	case "ANALYZED":
		return StatusAnalyzed, nil
	default:
		return 0, fmt.Errorf("unknown thread status %q", s)
	}
}

// CanTransition reports whether a thread in state s may move to next.
// Only single forward steps are allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusRemoved
	case StatusRemoved:
		return next == StatusAnalyzed
	case StatusAnalyzed:
		return false
	default:
		return false
	}
}

// Thread is a monitored post and its lifecycle state.
type Thread struct {
	ID              string
	Title           string
	Body            string
	Author          string
	CreatedAt       time.Time
	RemovedAt       *time.Time
	InitialScore    int
	InitialComments int
	Flair           string
	Status          Status
	RemovalCategory *string
	Tickers         []string
}

// NewThread builds the ACTIVE thread recorded the first time a snapshot is seen.
func NewThread(s PostSnapshot) Thread {
	author := strings.TrimSpace(s.Author)
	if author == "" {
		author = DeletedAuthor
	}
	return Thread{
		ID:              s.ID,
		Title:           s.Title,
		Body:            s.Body,
		Author:          author,
		CreatedAt:       s.CreatedAt,
		InitialScore:    s.Score,
		InitialComments: s.NumComments,
		Flair:           s.Flair,
		Status:          StatusActive,
	}
}

// PostSnapshot is what the content source reports about a post at one point in time.
type PostSnapshot struct {
	ID              string `validate:"required"`
	Title           string `validate:"required"`
	Body            string
	Author          string
	CreatedAt       time.Time `validate:"required"`
	Score           int
	NumComments     int `validate:"gte=0"`
	Flair           string
	RemovalCategory string
}

// EncodeTickers serializes a ticker set. An empty set encodes as nil (SQL NULL).
func EncodeTickers(tickers []string) (*string, error) {
	if len(tickers) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), tickers...)
	sort.Strings(sorted)
	raw, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("encode tickers: %w", err)
	}
	s := string(raw)
	return &s, nil
}

// DecodeTickers parses a persisted ticker set. A nil input decodes to nil.
func DecodeTickers(raw *string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var tickers []string
	if err := json.Unmarshal([]byte(*raw), &tickers); err != nil {
		return nil, fmt.Errorf("decode tickers %q: %w", *raw, err)
	}
	if len(tickers) == 0 {
		return nil, nil
	}
	return tickers, nil
}
