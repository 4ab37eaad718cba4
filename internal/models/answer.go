package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// AnswerKind tags the variant held by an Answer.
type AnswerKind string

const (
	AnswerOption  AnswerKind = "option"
	AnswerOptions AnswerKind = "options"
	AnswerNumber  AnswerKind = "number"
	AnswerText    AnswerKind = "text"
	AnswerRanking AnswerKind = "ranking"
)

// MaxTextAnswer bounds free-text answers.
const MaxTextAnswer = 1000

// Answer is a participant's answer narrowed to one variant. Only the field matching Kind is set.
type Answer struct {
	Kind      AnswerKind `json:"kind"`
	OptionID  string     `json:"optionId,omitempty"`
	OptionIDs []string   `json:"optionIds,omitempty"`
	Number    *float64   `json:"number,omitempty"`
	Text      string     `json:"text,omitempty"`
	Ranking   []string   `json:"ranking,omitempty"`
}

// AnswerKindFor returns the variant a slide type expects.
func AnswerKindFor(t PollType) (AnswerKind, bool) {
	switch t {
	case PollSingleChoice:
		return AnswerOption, true
	case PollMultipleChoice:
		return AnswerOptions, true
	case PollRating, PollScales:
		return AnswerNumber, true
	case PollWordCloud, PollOpenEnded, PollQA:
		return AnswerText, true
	case PollRanking:
		return AnswerRanking, true
	default:
		return "", false
	}
}

// DecodeAnswer narrows a raw client payload into the variant expected by pollType.
//
// Accepted shapes: single-choice takes an option id string (or {"optionId": ...}); multiple-choice a
// list of ids (a lone string is promoted to a one-element list); rating and scales a number or numeric
// string; text types a non-empty string; ranking a list of option ids.
func DecodeAnswer(pollType PollType, raw json.RawMessage) (Answer, error) {
	kind, ok := AnswerKindFor(pollType)
	if !ok {
		return Answer{}, fmt.Errorf("slide type %q does not accept answers", pollType)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Answer{}, fmt.Errorf("answer is required")
	}

	switch kind {
	case AnswerOption:
		id, err := decodeOptionID(raw)
		if err != nil {
			return Answer{}, err
		}
		return Answer{Kind: kind, OptionID: id}, nil

	case AnswerOptions:
		ids, err := decodeIDList(raw)
		if err != nil {
			return Answer{}, err
		}
		ids = dedupe(ids)
		if len(ids) == 0 {
			return Answer{}, fmt.Errorf("select at least one option")
		}
		return Answer{Kind: kind, OptionIDs: ids}, nil

	case AnswerNumber:
		n, err := decodeNumber(raw)
		if err != nil {
			return Answer{}, err
		}
		return Answer{Kind: kind, Number: &n}, nil

	case AnswerText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Answer{}, fmt.Errorf("answer must be text")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return Answer{}, fmt.Errorf("answer must not be empty")
		}
		if utf8.RuneCountInString(s) > MaxTextAnswer {
			return Answer{}, fmt.Errorf("answer exceeds %d characters", MaxTextAnswer)
		}
		return Answer{Kind: kind, Text: s}, nil

	case AnswerRanking:
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return Answer{}, fmt.Errorf("ranking must be a list of option ids")
		}
		if len(ids) == 0 {
			return Answer{}, fmt.Errorf("ranking must not be empty")
		}
		return Answer{Kind: kind, Ranking: ids}, nil
	}
	return Answer{}, fmt.Errorf("unsupported answer kind %q", kind)
}

func decodeOptionID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return "", fmt.Errorf("option id must not be empty")
		}
		return s, nil
	}
	var obj struct {
		OptionID string `json:"optionId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || strings.TrimSpace(obj.OptionID) == "" {
		return "", fmt.Errorf("answer must be an option id")
	}
	return strings.TrimSpace(obj.OptionID), nil
}

func decodeIDList(raw json.RawMessage) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return ids, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
		return []string{strings.TrimSpace(s)}, nil
	}
	return nil, fmt.Errorf("answer must be a list of option ids")
}

func decodeNumber(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, fmt.Errorf("answer must be a number")
		}
		parsed, perr := json.Number(strings.TrimSpace(s)).Float64()
		if perr != nil {
			return 0, fmt.Errorf("answer must be a number")
		}
		n = parsed
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("answer must be a finite number")
	}
	return n, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
