// Package classifier routes messages into views with a fixed, ordered rule set.
// Classify is pure: identical input always yields an identical Result.
package classifier

import (
	"regexp"
	"strings"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Rule names the rule that produced a Result
type Rule string

const (
	RuleDecision   Rule = "decision"
	RulePaperTrail Rule = "paper_trail"
	RuleFeed       Rule = "feed"
	RuleDefault    Rule = "default"
)

// bodyPrefixRunes how much of the body the paper trail rule looks at
const bodyPrefixRunes = 500

var (
	receiptKeywords      = regexp.MustCompile(`(?i)\b(receipt|invoice|payment|statement|transaction|order|shipped)`)
	confirmationKeywords = regexp.MustCompile(`(?i)\b(confirmation|booking|ticket)`)
)

var (
	feedHeaderMarkers = []string{"newsletter", "digest", "weekly", "daily", "update", "news"}
	bulkSenderMarkers = []string{"newsletter", "no-reply", "noreply", "updates", "marketing"}
)

// Input everything Classify looks at
type Input struct {
	Subject  string
	BodyText string // Plain text body, HTML already converted
	BodyHTML string
	FromName string
	FromAddr string

	// Decision is the user's allow/deny for the sender, nil when there is none
	Decision *models.Decision
	// SenderKnown the user already has a screened or auto classified message from the sender
	SenderKnown bool
}

// Result of classification
type Result struct {
	View            models.View
	Category        models.Category
	Confidence      float64
	ScreeningStatus models.ScreeningStatus
	Rule            Rule
}

// Classify applies the rules in order; the first match wins
func Classify(in Input) Result {
	if in.Decision != nil {
		switch *in.Decision {
		case models.DecisionAllow:
			return Result{models.ViewImbox, models.CategoryImportant, 1.0, models.ScreeningScreened, RuleDecision}
		case models.DecisionDeny:
			return Result{models.ViewScreener, models.CategoryScreenedOut, 1.0, models.ScreeningScreened, RuleDecision}
		}
	}

	if category, ok := paperTrail(in); ok {
		return Result{models.ViewPaperTrail, category, 0.9, models.ScreeningAutoClassified, RulePaperTrail}
	}

	if isFeed(in) {
		return Result{models.ViewFeed, models.CategoryNewsletter, 0.85, models.ScreeningAutoClassified, RuleFeed}
	}

	status := models.ScreeningPending
	if in.SenderKnown {
		status = models.ScreeningAutoClassified
	}
	return Result{models.ViewImbox, models.CategoryImportant, 0.7, status, RuleDefault}
}

// paperTrail checks subject and the start of the body. Receipt keywords win over
// confirmation keywords.
func paperTrail(in Input) (models.Category, bool) {
	text := in.Subject + "\n" + prefix(in.BodyText, bodyPrefixRunes)

	if receiptKeywords.MatchString(text) {
		return models.CategoryReceipt, true
	}
	if confirmationKeywords.MatchString(text) {
		return models.CategoryConfirmation, true
	}
	return "", false
}

func isFeed(in Input) bool {
	// Strongest signal, anywhere in the body
	if containsFold(in.BodyText, "unsubscribe") || containsFold(in.BodyHTML, "unsubscribe") {
		return true
	}

	header := strings.ToLower(in.Subject + "\n" + in.FromName + "\n" + in.FromAddr)
	for _, marker := range feedHeaderMarkers {
		if strings.Contains(header, marker) {
			return true
		}
	}

	addr := strings.ToLower(in.FromAddr)
	for _, marker := range bulkSenderMarkers {
		if strings.Contains(addr, marker) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

// prefix returns the first n runes of s
func prefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
