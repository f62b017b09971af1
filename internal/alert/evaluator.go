// Package alert 比较最近两个批次的价格，判断是否触发降价提醒，并组装报告。
//
// 这里的函数都是纯函数：不读写存储、不发送通知。
package alert

import (
	"fmt"
	"math"

	"flighthunter/internal/geo"
	"flighthunter/internal/model"
)

// Threshold 标识追踪器使用的阈值类型。
type Threshold string

const (
	ThresholdNone    Threshold = "none"
	ThresholdAmount  Threshold = "amount"
	ThresholdPercent Threshold = "percent"
)

// Decision 是一次评估的结果。
type Decision struct {
	Triggered      bool      `json:"triggered"`
	Threshold      Threshold `json:"threshold"`
	ThresholdValue float64   `json:"threshold_value,omitempty"`

	HasNewest      bool    `json:"has_newest"`
	NewestCheapest float64 `json:"newest_cheapest"`

	HasPrevious      bool    `json:"has_previous"`
	PreviousCheapest float64 `json:"previous_cheapest,omitempty"`
	AbsoluteChange   float64 `json:"absolute_change,omitempty"` // newest - previous，负数表示降价
	PercentChange    float64 `json:"percent_change,omitempty"`  // 相对 previous 的百分比变化

	Reason string `json:"reason,omitempty"`
}

// Drop 返回降价百分比（涨价时为 0）。
func (d Decision) Drop() float64 {
	if d.PercentChange >= 0 {
		return 0
	}
	return -d.PercentChange
}

// ThresholdOf 返回追踪器当前生效的阈值。金额阈值优先。
func ThresholdOf(t *model.Tracker) (Threshold, float64) {
	switch {
	case t.AlertAmount != nil:
		return ThresholdAmount, *t.AlertAmount
	case t.AlertPercent != nil:
		return ThresholdPercent, *t.AlertPercent
	default:
		return ThresholdNone, 0
	}
}

// Cheapest 返回最便宜的报价。价格相同时取时长更短的。
func Cheapest(offers []model.Offer) (model.Offer, bool) {
	if len(offers) == 0 {
		return model.Offer{}, false
	}
	best := offers[0]
	for _, o := range offers[1:] {
		if o.Price < best.Price || (o.Price == best.Price && o.DurationMinutes < best.DurationMinutes) {
			best = o
		}
	}
	return best, true
}

// Evaluate 计算最新批次相对上一批次的价格变化，并判断是否跨过阈值。
//
// 金额阈值：最新最低价 <= 阈值即触发。
// 百分比阈值：相对上一批次最低价的降幅 >= 阈值即触发，需要上一批次存在且最低价大于 0。
// 最新批次为空时不会触发。相同输入总是得到相同结果。
func Evaluate(t *model.Tracker, newest, previous *model.Batch) Decision {
	kind, value := ThresholdOf(t)
	d := Decision{Threshold: kind, ThresholdValue: value}

	best, ok := Cheapest(newest.Offers())
	if !ok {
		d.Reason = "no offers in newest batch"
		return d
	}
	d.HasNewest = true
	d.NewestCheapest = best.Price

	// drop 是未取整的降幅百分比，PercentChange 只用于展示。
	var drop float64
	if prev, ok := Cheapest(previous.Offers()); ok {
		d.HasPrevious = true
		d.PreviousCheapest = prev.Price
		d.AbsoluteChange = roundTo(best.Price-prev.Price, 2)
		if prev.Price > 0 {
			change := (best.Price - prev.Price) * 100 / prev.Price
			d.PercentChange = roundTo(change, 4)
			drop = -change
		}
	}

	switch kind {
	case ThresholdAmount:
		if best.Price <= value {
			d.Triggered = true
			d.Reason = fmt.Sprintf("cheapest %s is at or below %s", geo.FormatPrice(best.Price), geo.FormatPrice(value))
		}
	case ThresholdPercent:
		if d.HasPrevious && d.PreviousCheapest > 0 && drop >= value {
			d.Triggered = true
			d.Reason = fmt.Sprintf("price dropped %s (threshold %s)", geo.FormatPercent(d.Drop()), geo.FormatPercent(value))
		}
	}
	return d
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
