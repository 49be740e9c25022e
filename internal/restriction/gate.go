// Package restriction is the pre-send gate over the tenant's denylists
// (do-not-disturb, blocked, not-interested).
//
// Brazilian mobile numbers are ambiguous about the extra 9th digit, so every
// lookup runs against both spellings: an entry stored either way blocks both.
// On a lookup error the gate fails closed and reports every number as
// restricted; sending to a blocked contact is the one mistake this component
// exists to prevent.
package restriction

import (
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	appErrors "github.com/zapflow/zapflow-backend/internal/errors"
	"github.com/zapflow/zapflow-backend/internal/model"
)

// Result for one input number.
type Result struct {
	Restricted bool   `json:"restricted"`
	Category   string `json:"category,omitempty"`
}

// Store looks up active restriction entries by exact phone match.
type Store interface {
	FindActive(tenantID int, phones []string, now time.Time) ([]*model.Restriction, error)
}

type Gate struct {
	Store Store
}

func NewGate(store Store) *Gate {
	return &Gate{Store: store}
}

// CheckBatch resolves every input number against the tenant's restriction
// lists. The returned map is keyed by the input spelling. A non-nil error
// means the lookup itself failed; the map then marks everything restricted
// and the caller must abort the batch.
func (g *Gate) CheckBatch(tenantID int, phones []string, now time.Time) (map[string]Result, error) {
	results := make(map[string]Result, len(phones))

	formsByPhone := make(map[string][]string, len(phones))
	lookup := make([]string, 0, len(phones)*2)
	for _, phone := range phones {
		forms := CanonicalForms(phone)
		formsByPhone[phone] = forms
		lookup = append(lookup, forms...)
	}

	entries, err := g.Store.FindActive(tenantID, lookup, now)
	if err != nil {
		for _, phone := range phones {
			results[phone] = Result{Restricted: true}
		}
		return results, appErrors.NewRestrictionLookup(tenantID, err)
	}

	categoryByForm := make(map[string]string, len(entries))
	for _, e := range entries {
		for _, form := range CanonicalForms(e.Phone) {
			categoryByForm[form] = e.Category
		}
	}

	for _, phone := range phones {
		res := Result{}
		for _, form := range formsByPhone[phone] {
			if cat, ok := categoryByForm[form]; ok {
				res = Result{Restricted: true, Category: cat}
				break
			}
		}
		results[phone] = res
	}
	return results, nil
}

// CanonicalForms returns the digit-only spellings a number must be matched
// under. For a Brazilian mobile that is the pair with and without the 9th
// digit; for anything else it is the single normalized form.
func CanonicalForms(phone string) []string {
	digits := normalize(phone)

	if !strings.HasPrefix(digits, "55") {
		return []string{digits}
	}
	national := digits[2:]
	if len(national) == 11 && national[2] == '9' {
		// area(2) + 9-digit subscriber starting with 9
		return []string{digits, "55" + national[:2] + national[3:]}
	}
	if len(national) == 10 {
		return []string{"55" + national[:2] + "9" + national[2:], digits}
	}
	return []string{digits}
}

func normalize(phone string) string {
	if strings.HasPrefix(strings.TrimSpace(phone), "+") {
		parsed, err := phonenumbers.Parse(phone, "BR")
		if err == nil {
			return fmt.Sprintf("%d%s", parsed.GetCountryCode(), phonenumbers.GetNationalSignificantNumber(parsed))
		}
	}
	digits := stripNonDigits(phone)
	if len(digits) == 10 || len(digits) == 11 {
		// bare national number, assume Brazil
		return "55" + digits
	}
	return digits
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
