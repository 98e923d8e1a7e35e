package intake

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// All deadline arithmetic happens in Japan time.
var jst = time.FixedZone("JST", 9*60*60)

// Service type tags derived from the request text.
const (
	ServiceCutout    = "cutout"
	ServiceComposite = "composite"
	ServiceRetouch   = "retouch"
	ServiceOther     = "other"
)

var orderKeywords = []string{"お願い", "レタッチ", "切り抜き", "加工", "依頼", "合成"}

var urlRegexp = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")

// ExtractURLs returns every URL found in text, in order of appearance.
func ExtractURLs(text string) []string {
	return urlRegexp.FindAllString(text, -1)
}

// StripURLs removes every URL from text.
func StripURLs(text string) string {
	return strings.TrimSpace(urlRegexp.ReplaceAllString(text, ""))
}

// IsOrderRequest reports whether the message contains an order-request keyword.
func IsOrderRequest(text string) bool {
	for _, kw := range orderKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// DetectServiceType derives the service-type tag from the request text.
func DetectServiceType(text string) string {
	switch {
	case strings.Contains(text, "切り抜き"):
		return ServiceCutout
	case strings.Contains(text, "合成"):
		return ServiceComposite
	case strings.Contains(text, "レタッチ"):
		return ServiceRetouch
	default:
		return ServiceOther
	}
}

var (
	relativeDeadlines = []struct {
		re   *regexp.Regexp
		days int
	}{
		{regexp.MustCompile(`本日|今日`), 0},
		{regexp.MustCompile(`明日`), 1},
		{regexp.MustCompile(`明後日|あさって`), 2},
	}

	deadlineTimeRegexp = regexp.MustCompile(`(\d{1,2})[時:](\d{0,2})`)

	// Ordered most-specific first; the first match wins.
	deadlineDateRegexps = []*regexp.Regexp{
		regexp.MustCompile(`(\d{1,2})/(\d{1,2}).*?(\d{1,2}):(\d{2})`),
		regexp.MustCompile(`(\d{1,2})月(\d{1,2})日.*?(\d{1,2}):(\d{2})`),
		regexp.MustCompile(`(\d{1,2})/(\d{1,2}).*?(\d{1,2})時`),
		regexp.MustCompile(`(\d{1,2})月(\d{1,2})日.*?(\d{1,2})時`),
		regexp.MustCompile(`(\d{1,2})/(\d{1,2})`),
		regexp.MustCompile(`(\d{1,2})月(\d{1,2})日`),
	}
)

// ExtractDeadline parses a deadline out of free text. Supported forms are
// relative days (本日/今日, 明日, 明後日/あさって) and explicit dates
// (M/D, M月D日), each with an optional H:MM or H時 time. Without a time the
// deadline defaults to 18:00, except a same-day deadline requested after
// 17:00 which becomes 23:59. A month earlier than the current one rolls
// over to next year.
func ExtractDeadline(text string, now time.Time) (time.Time, bool) {
	now = now.In(jst)

	for _, rel := range relativeDeadlines {
		if !rel.re.MatchString(text) {
			continue
		}
		target := now.AddDate(0, 0, rel.days)

		hour, minute := 18, 0
		if m := deadlineTimeRegexp.FindStringSubmatch(text); m != nil {
			hour, _ = strconv.Atoi(m[1])
			if m[2] != "" {
				minute, _ = strconv.Atoi(m[2])
			} else {
				minute = 0
			}
		} else if rel.days == 0 && now.Hour() >= 17 {
			hour, minute = 23, 59
		}

		return time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, jst), true
	}

	for _, re := range deadlineDateRegexps {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])

		year := now.Year()
		if month < int(now.Month()) {
			year++
		}

		hour, minute := -1, 0
		if len(m) > 3 {
			hour, _ = strconv.Atoi(m[3])
		}
		if len(m) > 4 {
			minute, _ = strconv.Atoi(m[4])
		}

		if hour < 0 {
			if month == int(now.Month()) && day == now.Day() && now.Hour() >= 17 {
				hour, minute = 23, 59
			} else {
				hour = 18
			}
		}

		dt := time.Date(year, time.Month(month), day, hour, minute, 0, 0, jst)
		// Reject impossible dates that time.Date would normalize (e.g. 2/31).
		if int(dt.Month()) != month || dt.Day() != day || dt.Hour() != hour || dt.Minute() != minute {
			continue
		}
		return dt, true
	}

	return time.Time{}, false
}

// FormatDeadline renders a deadline the way it is stored and shown.
func FormatDeadline(t time.Time) string {
	return t.In(jst).Format("2006-01-02 15:04")
}

var (
	correctionKeywordRegexps = []*regexp.Regexp{
		regexp.MustCompile(`でした`),
		regexp.MustCompile(`です$`),
		regexp.MustCompile(`に変更`),
		regexp.MustCompile(`変更で`),
		regexp.MustCompile(`修正`),
		regexp.MustCompile(`訂正`),
		regexp.MustCompile(`間違`),
		regexp.MustCompile(`納期`),
	}

	correctionDateRegexps = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}/\d{1,2}`),
		regexp.MustCompile(`\d{1,2}月\d{1,2}日`),
	}

	orderIDRegexp = regexp.MustCompile(`\b([a-f0-9]{8})\b`)
)

// IsDeadlineCorrection reports whether a message reads like a deadline
// correction: it must contain a date token, plus either a correction
// keyword or be short enough (≤50 runes) to be a date-only message.
func IsDeadlineCorrection(text string) bool {
	hasDate := false
	for _, re := range correctionDateRegexps {
		if re.MatchString(text) {
			hasDate = true
			break
		}
	}
	if !hasDate {
		return false
	}

	for _, re := range correctionKeywordRegexps {
		if re.MatchString(text) {
			return true
		}
	}
	return len([]rune(strings.TrimSpace(text))) <= 50
}

// ExtractOrderIDPrefix pulls an 8-character hex order-id prefix out of a
// message, e.g. "dd67008b 納期 12月4日" → "dd67008b".
func ExtractOrderIDPrefix(text string) string {
	m := orderIDRegexp.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return ""
	}
	return m[1]
}
