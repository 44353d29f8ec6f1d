package ingest

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/width"
)

// AmountUndetermined is the display text for a missing or unknown amount.
const AmountUndetermined = "未定"

var undeterminedAmounts = map[string]bool{
	"":             true,
	"未定":           true,
	"なし":           true,
	"undetermined": true,
}

// Units are checked largest first; the first one present wins.
var amountUnits = []struct {
	marker     string
	multiplier int64
}{
	{"億", 100_000_000},
	{"万", 10_000},
	{"千", 1_000},
}

var yenPrinter = message.NewPrinter(language.Japanese)

// NormalizeAmount turns registry amount text ("3000万円", "1億", "500000")
// into yen and its display form. Unknown amounts yield (0, "未定").
func NormalizeAmount(raw string) (int64, string) {
	text := strings.TrimSpace(width.Narrow.String(raw))
	if undeterminedAmounts[strings.ToLower(text)] {
		return 0, AmountUndetermined
	}

	var digits strings.Builder
	for _, r := range text {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, AmountUndetermined
	}

	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, AmountUndetermined
	}

	for _, u := range amountUnits {
		if strings.Contains(text, u.marker) {
			if n > math.MaxInt64/u.multiplier {
				return 0, AmountUndetermined
			}
			n *= u.multiplier
			break
		}
	}

	return n, FormatAmount(n)
}

// FormatAmount renders yen the way listings show it: 1.5億円, 3,000万円, 500,000円.
// Values that round up to 10,000万 are shown in 億.
func FormatAmount(n int64) string {
	man := int64(math.Round(float64(n) / 10_000))
	switch {
	case n <= 0:
		return AmountUndetermined
	case man >= 10_000:
		return yenPrinter.Sprintf("%.1f億円", float64(n)/100_000_000)
	case n >= 10_000:
		return yenPrinter.Sprintf("%d万円", man)
	default:
		return yenPrinter.Sprintf("%d円", n)
	}
}
