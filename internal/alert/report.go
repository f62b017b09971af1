package alert

import (
	"sort"
	"time"

	"flighthunter/internal/model"
)

// Report 是一次检查后的报告内容，足以独立渲染为邮件等通知。
type Report struct {
	TrackerID    uint      `json:"tracker_id"`
	TrackerName  string    `json:"tracker_name"`
	Route        string    `json:"route"`
	Departures   []string  `json:"departures"`
	Destinations []string  `json:"destinations"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	TripDays     int       `json:"trip_days"`
	Flexibility  string    `json:"flexibility"`
	Cabin        string    `json:"cabin"`
	Passengers   int       `json:"passengers"`

	CheckedAt  time.Time `json:"checked_at"`
	OfferCount int       `json:"offer_count"`
	Currency   string    `json:"currency"`

	Decision Decision      `json:"decision"`
	Best     *model.Offer  `json:"best,omitempty"`
	Top      []model.Offer `json:"top,omitempty"` // 除 Best 外按价格排序的前 N 条
}

// Empty 报告批次中是否没有任何报价。
func (r *Report) Empty() bool {
	return r.Best == nil
}

// Compose 由最新批次和评估结果组装报告。纯函数。
func Compose(t *model.Tracker, newest *model.Batch, d Decision, topN int) Report {
	r := Report{
		TrackerID:    t.ID,
		TrackerName:  t.Name,
		Route:        t.Route(),
		Departures:   append([]string(nil), t.Departures...),
		Destinations: append([]string(nil), t.Destinations...),
		WindowStart:  model.TruncateDay(t.WindowStart),
		WindowEnd:    model.TruncateDay(t.WindowEnd),
		TripDays:     t.TripDays,
		Flexibility:  t.Flexibility.String(),
		Cabin:        string(t.Cabin),
		Passengers:   t.Passengers,
		Currency:     "EUR",
		Decision:     d,
	}
	if newest == nil {
		return r
	}
	r.CheckedAt = newest.CheckedAt

	ranked := Rank(newest.Offers())
	r.OfferCount = len(ranked)
	if len(ranked) == 0 {
		return r
	}
	best := ranked[0]
	r.Best = &best

	rest := ranked[1:]
	if topN >= 0 && len(rest) > topN {
		rest = rest[:topN]
	}
	if len(rest) > 0 {
		r.Top = rest
	}
	return r
}

// Rank 按价格、时长、经停次数、哈希升序排序，返回新切片。
func Rank(offers []model.Offer) []model.Offer {
	out := append([]model.Offer(nil), offers...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if a.DurationMinutes != b.DurationMinutes {
			return a.DurationMinutes < b.DurationMinutes
		}
		if a.Stops != b.Stops {
			return a.Stops < b.Stops
		}
		return a.Hash < b.Hash
	})
	return out
}
