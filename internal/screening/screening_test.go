package screening

import (
	"context"
	"errors"
	"testing"

	"github.com/mixelka/mailtriage/internal/classifier"
	"github.com/mixelka/mailtriage/internal/testutil"
	"github.com/mixelka/mailtriage/pkg/models"
)

func TestNormalizeSender(t *testing.T) {
	tests := map[string]string{
		"Shop <Orders@Shop.com>": "orders@shop.com",
		"orders@shop.com":        "orders@shop.com",
		" <ORDERS@shop.com> ":    "orders@shop.com",
		"":                       "",
	}
	for in, want := range tests {
		if got := NormalizeSender(in); got != want {
			t.Errorf("NormalizeSender(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestManager_DecisionOverridesKeywords(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	m := NewManager(db, testutil.Logger())
	account := testutil.CreateAccount(t, db, 1, "a@example.com")

	e := testutil.StoreEmail(t, db, account.ID, "m1", "x@shop.com", "Your invoice")
	result, err := m.ClassifyEmail(ctx, 1, e)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.View != models.ViewPaperTrail {
		t.Fatalf("expected paper_trail without a decision, got %s", result.View)
	}

	if _, _, err := m.RecordDecision(ctx, 1, "X@Shop.com", models.DecisionDeny, false); err != nil {
		t.Fatalf("record: %v", err)
	}

	e2 := testutil.StoreEmail(t, db, account.ID, "m2", "x@shop.com", "Another invoice")
	result, err = m.ClassifyEmail(ctx, 1, e2)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.View != models.ViewScreener || result.Rule != classifier.RuleDecision {
		t.Errorf("expected deny decision to win, got %+v", result)
	}

	stored, err := db.GetEmailByExternalID(ctx, account.ID, "m2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ScreeningStatus != models.ScreeningScreened {
		t.Errorf("expected screened, got %s", stored.ScreeningStatus)
	}
}

func TestManager_RecordDecisionApply(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	m := NewManager(db, testutil.Logger())
	account := testutil.CreateAccount(t, db, 1, "a@example.com")

	// Both land in imbox as pending: unknown sender, no keywords
	for _, ext := range []string{"m1", "m2"} {
		e := testutil.StoreEmail(t, db, account.ID, ext, "friend@example.com", "Lunch?")
		if _, err := m.ClassifyEmail(ctx, 1, e); err != nil {
			t.Fatalf("classify: %v", err)
		}
	}

	_, n, err := m.RecordDecision(ctx, 1, "friend@example.com", models.DecisionAllow, true)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 reclassified, got %d", n)
	}

	for _, ext := range []string{"m1", "m2"} {
		e, _ := db.GetEmailByExternalID(ctx, account.ID, ext)
		if e.ScreeningStatus != models.ScreeningScreened || e.View == nil || *e.View != models.ViewImbox {
			t.Errorf("%s: expected screened imbox, got %s/%v", ext, e.ScreeningStatus, e.View)
		}
	}
}

func TestManager_Undo(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	m := NewManager(db, testutil.Logger())
	account := testutil.CreateAccount(t, db, 1, "a@example.com")

	for _, ext := range []string{"m1", "m2", "m3"} {
		testutil.StoreEmail(t, db, account.ID, ext, "x@shop.com", "Hello")
	}
	if _, n, err := m.RecordDecision(ctx, 1, "x@shop.com", models.DecisionDeny, true); err != nil || n != 3 {
		t.Fatalf("record: n=%d err=%v", n, err)
	}

	affected, err := m.Undo(ctx, 1, "Shop <x@shop.com>")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if affected != 3 {
		t.Errorf("expected 3 affected, got %d", affected)
	}

	for _, ext := range []string{"m1", "m2", "m3"} {
		e, _ := db.GetEmailByExternalID(ctx, account.ID, ext)
		if e.ScreeningStatus == models.ScreeningScreened || e.View != nil {
			t.Errorf("%s still screened: %s/%v", ext, e.ScreeningStatus, e.View)
		}
	}

	decisions, err := m.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(decisions) != 0 {
		t.Errorf("expected decision to be removed, got %+v", decisions)
	}

	affected, err = m.Undo(ctx, 1, "x@shop.com")
	if err != nil {
		t.Fatalf("second undo must not fail: %v", err)
	}
	if affected != 0 {
		t.Errorf("expected second undo to affect 0, got %d", affected)
	}
}

func TestManager_Validation(t *testing.T) {
	db := testutil.NewTestDB(t)
	m := NewManager(db, testutil.Logger())

	if _, _, err := m.RecordDecision(context.Background(), 1, "", models.DecisionAllow, false); !errors.Is(err, ErrInvalidSender) {
		t.Errorf("expected ErrInvalidSender, got %v", err)
	}
	if _, _, err := m.RecordDecision(context.Background(), 1, "x@shop.com", "maybe", false); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := m.Undo(context.Background(), 1, "  "); !errors.Is(err, ErrInvalidSender) {
		t.Errorf("expected ErrInvalidSender, got %v", err)
	}
}
