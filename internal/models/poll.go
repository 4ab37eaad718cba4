package models

import (
	"time"

	"github.com/google/uuid"
)

// PollType is the declared response type of a slide.
type PollType string

const (
	PollSingleChoice   PollType = "single-choice"
	PollMultipleChoice PollType = "multiple-choice"
	PollWordCloud      PollType = "word-cloud"
	PollOpenEnded      PollType = "open-ended"
	PollScales         PollType = "scales"
	PollRanking        PollType = "ranking"
	PollQA             PollType = "qa"
	PollRating         PollType = "rating"

	// Static slides display content and take no answers.
	PollContent PollType = "content"
	PollHeading PollType = "heading"
	PollImage   PollType = "image"
)

var pollTypes = map[PollType]bool{
	PollSingleChoice: true, PollMultipleChoice: true, PollWordCloud: true, PollOpenEnded: true,
	PollScales: true, PollRanking: true, PollQA: true, PollRating: true,
	PollContent: true, PollHeading: true, PollImage: true,
}

// Valid reports whether t is a known slide type.
func (t PollType) Valid() bool { return pollTypes[t] }

// IsStatic reports whether the slide accepts no answers.
func (t PollType) IsStatic() bool {
	return t == PollContent || t == PollHeading || t == PollImage
}

// HasOptions reports whether the slide type is built from a declared option list.
func (t PollType) HasOptions() bool {
	return t == PollSingleChoice || t == PollMultipleChoice || t == PollRanking
}

// Option is one declared choice. ID and Text are fixed at creation; Votes is rewritten by aggregation.
type Option struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Poll is one slide of a session.
type Poll struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"sessionId"`
	Type       PollType  `json:"type"`
	Question   string    `json:"question"`
	Options    []Option  `json:"options"`
	OrderIndex int       `json:"orderIndex"`
	CreatedAt  time.Time `json:"createdAt"`
}
