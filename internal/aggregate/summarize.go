// Package aggregate turns a poll's response rows into a display-ready Summary.
//
// Summarize is pure: no I/O, no clock, no map iteration in its output. Calling it twice with the same
// inputs yields values that marshal to identical JSON.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/livepoll/backend/internal/models"
)

// OptionResult is one declared option with its tally.
type OptionResult struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// TextEntry is one free-text answer.
type TextEntry struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WordCount is one normalized word-cloud entry with its frequency.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// RankingEntry is one submitted ranking, unaggregated.
type RankingEntry struct {
	Ranking   []string  `json:"ranking"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the aggregated result of a poll at a point in time.
type Summary struct {
	Type           models.PollType `json:"type"`
	TotalResponses int             `json:"totalResponses"`
	Options        []OptionResult  `json:"options,omitempty"`
	Average        *float64        `json:"average,omitempty"`
	Min            *float64        `json:"min,omitempty"`
	Max            *float64        `json:"max,omitempty"`
	Responses      []TextEntry     `json:"responses,omitempty"`
	Words          []WordCount     `json:"words,omitempty"`
	Rankings       []RankingEntry  `json:"rankings,omitempty"`
}

// Summarize aggregates responses for a poll of the given type. Responses are expected in submission
// order; passthrough lists keep that order.
func Summarize(pollType models.PollType, options []models.Option, responses []models.Response) Summary {
	s := Summary{Type: pollType, TotalResponses: len(responses)}

	switch pollType {
	case models.PollSingleChoice, models.PollMultipleChoice:
		s.Options = tallyOptions(options, responses)

	case models.PollRating, models.PollScales:
		avg, lowest, highest := numericStats(responses)
		s.Average, s.Min, s.Max = &avg, lowest, highest

	case models.PollOpenEnded, models.PollQA:
		s.Responses = textEntries(responses)

	case models.PollWordCloud:
		s.Responses = textEntries(responses)
		s.Words = wordCounts(responses)

	case models.PollRanking:
		s.Rankings = rankingEntries(responses)
	}
	return s
}

// Counts returns option id -> votes for the declared options of a summary, used to persist counters.
func (s Summary) Counts() map[string]int {
	out := make(map[string]int, len(s.Options))
	for _, o := range s.Options {
		out[o.ID] = o.Votes
	}
	return out
}

func tallyOptions(options []models.Option, responses []models.Response) []OptionResult {
	// Stray ids are counted here but never echoed back.
	counts := make(map[string]int)
	for _, r := range responses {
		switch r.Answer.Kind {
		case models.AnswerOption:
			counts[r.Answer.OptionID]++
		case models.AnswerOptions:
			for _, id := range r.Answer.OptionIDs {
				counts[id]++
			}
		}
	}

	total := len(responses)
	out := make([]OptionResult, 0, len(options))
	for _, o := range options {
		votes := counts[o.ID]
		out = append(out, OptionResult{
			ID:         o.ID,
			Text:       o.Text,
			Votes:      votes,
			Percentage: percentage(votes, total),
		})
	}
	return out
}

func numericStats(responses []models.Response) (avg float64, lowest, highest *float64) {
	var sum float64
	var n int
	for _, r := range responses {
		if r.Answer.Kind != models.AnswerNumber || r.Answer.Number == nil {
			continue
		}
		v := *r.Answer.Number
		sum += v
		n++
		if lowest == nil || v < *lowest {
			lo := v
			lowest = &lo
		}
		if highest == nil || v > *highest {
			hi := v
			highest = &hi
		}
	}
	if n == 0 {
		return 0, nil, nil
	}
	return round2(sum / float64(n)), lowest, highest
}

func textEntries(responses []models.Response) []TextEntry {
	out := make([]TextEntry, 0, len(responses))
	for _, r := range responses {
		if r.Answer.Kind != models.AnswerText {
			continue
		}
		out = append(out, TextEntry{Text: r.Answer.Text, Timestamp: r.SubmittedAt})
	}
	return out
}

func wordCounts(responses []models.Response) []WordCount {
	counts := make(map[string]int)
	for _, r := range responses {
		if r.Answer.Kind != models.AnswerText {
			continue
		}
		w := normalizeWord(r.Answer.Text)
		if w != "" {
			counts[w]++
		}
	}
	out := make([]WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, WordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	return out
}

func rankingEntries(responses []models.Response) []RankingEntry {
	out := make([]RankingEntry, 0, len(responses))
	for _, r := range responses {
		if r.Answer.Kind != models.AnswerRanking {
			continue
		}
		ranking := make([]string, len(r.Answer.Ranking))
		copy(ranking, r.Answer.Ranking)
		out = append(out, RankingEntry{Ranking: ranking, Timestamp: r.SubmittedAt})
	}
	return out
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func percentage(votes, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(votes) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
