package model

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
)

var shortcodePattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

// ValidShortcode reports whether code has the shortcode shape: eight letters
// or digits. Case is normalised to upper when the code becomes an attempt id.
func ValidShortcode(code string) bool {
	return shortcodePattern.MatchString(code)
}

// Candidate is the identity snapshot captured when a shortcode is redeemed.
type Candidate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Question is a multiple-choice question. Option order defines the index
// space used by answers.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// TestData is the redeemed test content handed to a session controller.
type TestData struct {
	AttemptID       string     `json:"attempt_id"`
	Candidate       Candidate  `json:"candidate"`
	Questions       []Question `json:"questions"`
	DurationMinutes int        `json:"duration_minutes"`
}

// Valid reports whether the payload can start an attempt.
func (t *TestData) Valid() bool {
	if t == nil || t.AttemptID == "" || len(t.Questions) == 0 || t.DurationMinutes <= 0 {
		return false
	}
	for _, q := range t.Questions {
		if q.ID == "" || len(q.Options) == 0 {
			return false
		}
	}
	return true
}

// AnswerEntry is one answered question in a submission payload.
type AnswerEntry struct {
	QuestionID     string `json:"question_id"`
	SelectedOption int    `json:"selected_option"`
}

// SubmitAttemptRequest is the body sent to the backend submit endpoint.
type SubmitAttemptRequest struct {
	Answers []AnswerEntry `json:"answers"`
}

// BuildAnswerEntries converts an index→option map into payload entries ordered
// by question index. Indexes outside the question list are dropped and
// unanswered questions are omitted.
func BuildAnswerEntries(questions []Question, answers map[int]int) []AnswerEntry {
	idx := make([]int, 0, len(answers))
	for i := range answers {
		if i >= 0 && i < len(questions) {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	entries := make([]AnswerEntry, 0, len(idx))
	for _, i := range idx {
		entries = append(entries, AnswerEntry{
			QuestionID:     questions[i].ID,
			SelectedOption: answers[i],
		})
	}
	return entries
}

// ParseOptions accepts the backend's options_json as either an array or an
// object. Object values follow JavaScript property order: integer-like keys
// ascending by value, then the remaining keys as written. Non-string values
// keep their JSON text.
func ParseOptions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, v := range list {
			out = append(out, optionText(v))
		}
		return out
	}

	type option struct {
		key   string
		value json.RawMessage
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var opts []option
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil
		}
		if i, ok := seen[key]; ok {
			opts[i].value = v
			continue
		}
		seen[key] = len(opts)
		opts = append(opts, option{key: key, value: v})
	}

	sort.SliceStable(opts, func(i, j int) bool {
		ni, iok := arrayIndex(opts[i].key)
		nj, jok := arrayIndex(opts[j].key)
		if iok && jok {
			return ni < nj
		}
		return iok && !jok
	})
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, optionText(o.value))
	}
	return out
}

// arrayIndex reports whether k is a canonical non-negative integer, the keys
// JavaScript enumerates first.
func arrayIndex(k string) (uint64, bool) {
	if k == "" || (len(k) > 1 && k[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(k, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}

func optionText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}

// RedeemRequest is the payload for redeeming a shortcode.
type RedeemRequest struct {
	Shortcode string `json:"shortcode" binding:"required,shortcode"`
}

// RedeemResponse is returned to the candidate page after redemption.
type RedeemResponse struct {
	AttemptID string    `json:"attempt_id"`
	Token     string    `json:"token"`
	TestData  *TestData `json:"test_data"`
}
