package forms

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// slugSuffixDigits is the number of trailing clock digits appended to every
// generated slug to keep same-title creations from colliding.
const slugSuffixDigits = 6

// slugFromTitle derives a URL-safe public identifier from a form title:
// lower-case the title, collapse every run of non-alphanumeric characters
// into a single hyphen, trim leading and trailing hyphens, then append the
// low-order decimal digits of the clock in milliseconds. An empty or fully
// non-alphanumeric title yields just the digit suffix.
func slugFromTitle(title string, now time.Time) string {
	var builder strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		if r <= unicode.MaxASCII && (unicode.IsLower(r) || unicode.IsDigit(r)) {
			if pendingHyphen && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			pendingHyphen = false
			builder.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	suffix := fmt.Sprintf("%0*d", slugSuffixDigits, now.UnixMilli()%1_000_000)
	base := builder.String()
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
