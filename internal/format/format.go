// Package format renders amounts, distances and times for display.
package format

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/example/ride-passenger/internal/models"
)

// Currency formats amount in the currency identified by the ISO 4217 code,
// using the number conventions of locale (a BCP 47 tag such as "en-ZA").
func Currency(amount float64, locale, code string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(code))
	}
	p := message.NewPrinter(tag)
	return p.Sprint(currency.NarrowSymbol(unit.Amount(amount)))
}

// Distance renders km as metres below one kilometre.
func Distance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%dm", int(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1fkm", km)
}

func Duration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dmin", minutes)
	}
	return fmt.Sprintf("%dh %dmin", minutes/60, minutes%60)
}

// RelativeTime buckets the age of t relative to now.
func RelativeTime(t, now time.Time) string {
	minutes := int(now.Sub(t) / time.Minute)
	if minutes < 1 {
		return "Just now"
	}
	if minutes < 60 {
		return fmt.Sprintf("%dmin ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd ago", days)
	}
	return t.Format("2006-01-02")
}

func MaskPhone(phone string) string {
	if len(phone) < 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func StatusLabel(s models.RideStatus) string {
	switch s {
	case models.StatusRequested:
		return "Finding driver"
	case models.StatusAssigned:
		return "Driver assigned"
	case models.StatusEnroute:
		return "Driver on the way"
	case models.StatusStarted:
		return "On trip"
	case models.StatusCompleted:
		return "Completed"
	case models.StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
