package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var iataRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// CadenceParser 解析报告频率使用的 cron 表达式（5 段）。
var CadenceParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// 预设频率对应的 cron 表达式。
var cadencePresets = map[string]string{
	"HOURLY": "0 * * * *",
	"DAILY":  "0 7 * * *",
	"WEEKLY": "0 7 * * 1",
}

// ValidationError 表示追踪器配置不合法，应在创建时拒绝。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// IsIATA 报告 code 是否为三位大写字母的机场代码。
func IsIATA(code string) bool {
	return iataRegex.MatchString(code)
}

// CadenceSpec 把预设频率或 cron 表达式转换为可解析的 cron 表达式。
func CadenceSpec(cadence string) string {
	c := strings.TrimSpace(cadence)
	if c == "" {
		return cadencePresets["DAILY"]
	}
	if spec, ok := cadencePresets[strings.ToUpper(c)]; ok {
		return spec
	}
	return c
}

// ValidateTracker 校验追踪器配置。
func ValidateTracker(t *Tracker) error {
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if len(t.Departures) == 0 {
		return &ValidationError{Field: "departures", Message: "must not be empty"}
	}
	if len(t.Destinations) == 0 {
		return &ValidationError{Field: "destinations", Message: "must not be empty"}
	}
	for _, code := range t.Departures {
		if !IsIATA(code) {
			return &ValidationError{Field: "departures", Message: fmt.Sprintf("invalid airport code %q", code)}
		}
	}
	for _, code := range t.Destinations {
		if !IsIATA(code) {
			return &ValidationError{Field: "destinations", Message: fmt.Sprintf("invalid airport code %q", code)}
		}
	}
	if t.DepartureRadiusKm < 0 {
		return &ValidationError{Field: "departure_radius_km", Message: "must be non-negative"}
	}
	if t.WindowStart.IsZero() || t.WindowEnd.IsZero() {
		return &ValidationError{Field: "window", Message: "start and end are required"}
	}
	if t.WindowEnd.Before(t.WindowStart) {
		return &ValidationError{Field: "window", Message: "start must not be after end"}
	}
	if t.TripDays <= 0 {
		return &ValidationError{Field: "trip_days", Message: "must be positive"}
	}
	if t.Flexibility < FlexExact || t.Flexibility > FlexPlusMinus2 {
		return &ValidationError{Field: "flexibility", Message: "must be EXACT, PLUS_MINUS_1 or PLUS_MINUS_2"}
	}
	switch t.Cabin {
	case CabinEconomy, CabinPremiumEconomy, CabinBusiness, CabinFirst:
	default:
		return &ValidationError{Field: "cabin", Message: fmt.Sprintf("unknown cabin %q", t.Cabin)}
	}
	switch t.Luggage {
	case LuggageNone, LuggageCabin, LuggageChecked:
	default:
		return &ValidationError{Field: "luggage", Message: fmt.Sprintf("unknown luggage preference %q", t.Luggage)}
	}
	if t.Passengers <= 0 || t.Passengers > 9 {
		return &ValidationError{Field: "passengers", Message: "must be between 1 and 9"}
	}
	if t.AlertPercent != nil && t.AlertAmount != nil {
		return &ValidationError{Field: "alert", Message: "only one of percent or amount threshold may be set"}
	}
	if t.AlertPercent != nil && (*t.AlertPercent <= 0 || *t.AlertPercent >= 100) {
		return &ValidationError{Field: "alert_percent", Message: "must be between 0 and 100"}
	}
	if t.AlertAmount != nil && *t.AlertAmount <= 0 {
		return &ValidationError{Field: "alert_amount", Message: "must be positive"}
	}
	if _, err := CadenceParser.Parse(CadenceSpec(t.Cadence)); err != nil {
		return &ValidationError{Field: "cadence", Message: err.Error()}
	}
	return nil
}
