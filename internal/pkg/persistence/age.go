package persistence

import (
	"fmt"
	"time"
)

// AgeText returns a pediatric age description in portuguese: days under a month,
// months under two years, years and months after
func AgeText(birth, now time.Time) string {
	if birth.IsZero() || now.Before(birth) {
		return ""
	}
	months := (now.Year()-birth.Year())*12 + int(now.Month()) - int(birth.Month())
	if now.Day() < birth.Day() {
		months--
	}
	if months < 1 {
		days := int(now.Sub(birth).Hours() / 24)
		return plural(days, "dia", "dias")
	}
	if months < 24 {
		return plural(months, "mês", "meses")
	}
	y, m := months/12, months%12
	if m == 0 {
		return plural(y, "ano", "anos")
	}
	return plural(y, "ano", "anos") + " e " + plural(m, "mês", "meses")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
