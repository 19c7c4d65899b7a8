package calsync

import (
	"strings"
	"unicode"
)

// Classification defaults. The practice calendar ID is the sub-calendar
// the practice-management integration writes into when it mirrors
// appointments onto the remote calendar.
const (
	DefaultPracticeIdentifier = "simplepractice"
	DefaultPracticeCalendarID = "0np7sib5u30o7oc297j5pb259g"
	DefaultScoreThreshold     = 2
)

// defaultClinicalKeywords is the fixed clinical-terminology set matched
// against titles and descriptions.
var defaultClinicalKeywords = []string{
	"therapy",
	"session",
	"consultation",
	"counseling",
	"supervision",
	"intake",
	"assessment",
	"evaluation",
}

var locationKeywords = []string{"office", "clinic"}

// ClassifierConfig holds the tunable indicator constants. The zero
// value is not usable; call DefaultClassifierConfig.
type ClassifierConfig struct {
	PracticeIdentifier string
	PracticeCalendarID string
	ClinicalKeywords   []string
	ScoreThreshold     int
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		PracticeIdentifier: DefaultPracticeIdentifier,
		PracticeCalendarID: DefaultPracticeCalendarID,
		ClinicalKeywords:   defaultClinicalKeywords,
		ScoreThreshold:     DefaultScoreThreshold,
	}
}

func (c ClassifierConfig) normalized() ClassifierConfig {
	if c.PracticeIdentifier == "" {
		c.PracticeIdentifier = DefaultPracticeIdentifier
	}
	if c.PracticeCalendarID == "" {
		c.PracticeCalendarID = DefaultPracticeCalendarID
	}
	if len(c.ClinicalKeywords) == 0 {
		c.ClinicalKeywords = defaultClinicalKeywords
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	return c
}

// Classifier relabels events of ambiguous origin as practice-management
// appointments when enough independent indicators agree. It is a pure
// function over one event plus the indicator constants.
type Classifier struct {
	cfg ClassifierConfig
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg.normalized()}
}

// Score counts the true indicators for the event. Indicator order does
// not matter; each contributes at most one point.
func (c *Classifier) Score(e Event) int {
	title := strings.ToLower(e.Title)
	description := strings.ToLower(e.Description)
	location := strings.ToLower(e.Location)

	score := 0
	if strings.Contains(title, strings.ToLower(c.cfg.PracticeIdentifier)) ||
		strings.Contains(description, strings.ToLower(c.cfg.PracticeIdentifier)) {
		score++
	}
	if e.CalendarID != "" && e.CalendarID == c.cfg.PracticeCalendarID {
		score++
	}
	if containsAnyKeyword(title, c.cfg.ClinicalKeywords) || containsAnyKeyword(description, c.cfg.ClinicalKeywords) {
		score++
	}
	if containsAnyKeyword(location, locationKeywords) {
		score++
	}
	if looksLikePersonName(e.Title) {
		score++
	}
	return score
}

// Classify returns the event with its provenance resolved. Events whose
// source was set directly by their adapter are returned unchanged; a
// single weak signal (score 1) is never enough to relabel.
func (c *Classifier) Classify(e Event) Event {
	if e.TrustedSource {
		return e
	}
	score := c.Score(e)
	e.ClassificationScore = score
	if score >= c.cfg.ScoreThreshold {
		e.Source = SourcePractice
	} else if e.Source == "" {
		e.Source = SourceRemoteCalendar
	}
	return e
}

func containsAnyKeyword(haystack string, keywords []string) bool {
	if haystack == "" {
		return false
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// looksLikePersonName matches a bare "Firstname Lastname" title: exactly
// two tokens, both capitalized, letters only. Suffixes like
// "John Smith Appointment" do not match.
func looksLikePersonName(title string) bool {
	tokens := strings.Fields(strings.TrimSpace(title))
	if len(tokens) != 2 {
		return false
	}
	for _, token := range tokens {
		if !isCapitalizedWord(token) {
			return false
		}
	}
	return true
}

func isCapitalizedWord(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLetter(r) || unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
