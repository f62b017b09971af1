package provider

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownCurrency 表示汇率表中没有该货币。
var ErrUnknownCurrency = errors.New("unknown currency")

// BaseCurrency 是所有观测价格使用的货币。
const BaseCurrency = "EUR"

// eurRates 每单位外币折合的欧元数。
var eurRates = map[string]float64{
	"EUR": 1,
	"USD": 0.92,
	"GBP": 1.17,
	"CHF": 1.04,
	"CZK": 0.040,
	"PLN": 0.23,
	"HUF": 0.0025,
	"SEK": 0.088,
	"NOK": 0.086,
	"DKK": 0.134,
}

// NormalizePrice 把金额换算为欧元并保留两位小数。空货币按欧元处理。
func NormalizePrice(amount float64, currency string) (float64, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = BaseCurrency
	}
	rate, ok := eurRates[code]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	return roundCents(amount * rate), nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
