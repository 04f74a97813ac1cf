package models

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// DefaultLocale is used when no display locale is configured or the
// configured one cannot be matched.
const DefaultLocale = "en-US"

// Display layouts, parallel to supportedLocales.
var (
	supportedLocales = []language.Tag{
		language.AmericanEnglish,
		language.BritishEnglish,
		language.German,
		language.French,
		language.Japanese,
	}
	localeLayouts = []string{
		"Jan 2, 2006 3:04 PM",
		"2 Jan 2006 15:04",
		"02.01.2006 15:04",
		"02/01/2006 15:04",
		"2006/01/02 15:04",
	}
	localeMatcher = language.NewMatcher(supportedLocales)
)

// LayoutForLocale returns the time layout used for display strings in the
// given BCP 47 locale.
func LayoutForLocale(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return localeLayouts[0]
	}
	_, idx, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return localeLayouts[0]
	}
	return localeLayouts[idx]
}

// Normalizer converts backend payloads into the shapes the form and the
// renderer rely on.
type Normalizer struct {
	Layout string
}

// NewNormalizer returns a Normalizer formatting dates for locale.
func NewNormalizer(locale string) *Normalizer {
	if locale == "" {
		locale = DefaultLocale
	}
	return &Normalizer{Layout: LayoutForLocale(locale)}
}

// FormatDate renders an RFC 3339 timestamp for display. Unparseable input
// is returned unchanged.
func (n *Normalizer) FormatDate(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format(n.Layout)
}

// Review returns a normalized copy of r. The input is not modified.
func (n *Normalizer) Review(r *Review) *Review {
	if r == nil {
		return nil
	}
	out := *r
	out.CreatedAtString = n.FormatDate(r.CreatedAt)
	out.UpdatedAtString = n.FormatDate(r.UpdatedAt)
	out.ReviewItems = make([]*ReviewItem, len(r.ReviewItems))
	for i, it := range r.ReviewItems {
		out.ReviewItems[i] = n.Item(it)
	}
	return &out
}

// Item returns a normalized copy of a review item: answers trimmed,
// comments sorted by sortOrder, and an empty comment list replaced by a
// single blank row.
func (n *Normalizer) Item(it *ReviewItem) *ReviewItem {
	out := *it
	out.InitialAnswer = strings.TrimSpace(it.InitialAnswer)
	if it.FinalAnswer != nil {
		fa := strings.TrimSpace(*it.FinalAnswer)
		out.FinalAnswer = &fa
	}
	if it.ManagerComment != nil {
		mc := *it.ManagerComment
		out.ManagerComment = &mc
	}
	out.ReviewItemComments = NormalizeComments(it.ReviewItemComments)
	return &out
}

// BlankComment is the placeholder row used when an item has no comments.
func BlankComment() *ReviewItemComment {
	return &ReviewItemComment{ID: "", Content: "", Type: "", SortOrder: 0}
}

// NormalizeComments copies comments, sorts them ascending by sortOrder and
// substitutes a blank row for an empty list.
func NormalizeComments(in []*ReviewItemComment) []*ReviewItemComment {
	if len(in) == 0 {
		return []*ReviewItemComment{BlankComment()}
	}
	out := make([]*ReviewItemComment, len(in))
	for i, c := range in {
		cp := *c
		if c.Appeal != nil {
			a := *c.Appeal
			if c.Appeal.AppealResponse != nil {
				resp := *c.Appeal.AppealResponse
				a.AppealResponse = &resp
			}
			cp.Appeal = &a
		}
		out[i] = &cp
	}
	SortComments(out)
	return out
}

// SortComments orders comments ascending by sortOrder in place. Equal
// sort orders keep their relative order.
func SortComments(cs []*ReviewItemComment) {
	slices.SortStableFunc(cs, func(a, b *ReviewItemComment) int {
		return cmp.Compare(a.SortOrder, b.SortOrder)
	})
}
