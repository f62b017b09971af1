// Package search 定义发送给各个 provider 的标准化搜索请求，
// 以及由日期窗口生成候选往返日期的逻辑。
package search

import (
	"sort"
	"time"

	"flighthunter/internal/geo"
	"flighthunter/internal/model"
)

// Request 是传给每个 provider 的标准化搜索参数（不落库）。
type Request struct {
	TrackerID    uint
	Departures   []string
	Destinations []string
	WindowStart  time.Time
	WindowEnd    time.Time
	TripDays     int
	Flexibility  model.Flexibility
	Cabin        model.Cabin
	Luggage      model.Luggage
	Passengers   int

	// Now 用于判断 "过去的日期"，由调用方注入。
	Now time.Time
}

// DatePair 是一组候选的（去程, 返程）日期。
type DatePair struct {
	Outbound time.Time
	Return   time.Time
}

// Nights 返回返程与去程相差的天数。
func (p DatePair) Nights() int {
	return int(p.Return.Sub(p.Outbound).Hours() / 24)
}

// Key 返回 "2006-01-02/2006-01-02" 形式的键。
func (p DatePair) Key() string {
	return p.Outbound.Format(time.DateOnly) + "/" + p.Return.Format(time.DateOnly)
}

// NewRequest 根据追踪器构建搜索请求。出发地会按半径扩展到邻近机场。
func NewRequest(t *model.Tracker, dir geo.Directory, now time.Time) Request {
	passengers := t.Passengers
	if passengers <= 0 {
		passengers = 1
	}
	return Request{
		TrackerID:    t.ID,
		Departures:   geo.ExpandAirports(dir, t.Departures, float64(t.DepartureRadiusKm)),
		Destinations: append([]string(nil), t.Destinations...),
		WindowStart:  model.TruncateDay(t.WindowStart),
		WindowEnd:    model.TruncateDay(t.WindowEnd),
		TripDays:     t.TripDays,
		Flexibility:  t.Flexibility,
		Cabin:        t.Cabin,
		Luggage:      t.Luggage,
		Passengers:   passengers,
		Now:          now,
	}
}

// DatePairs 返回请求范围内的全部候选日期。
func (r Request) DatePairs() []DatePair {
	return DateCombinations(r.WindowStart, r.WindowEnd, r.TripDays, r.Flexibility, r.Now)
}

// DateCombinations 生成候选往返日期。
//
// 对窗口内的每一天以及浮动范围内的每个偏移量生成一对日期；
// 去程早于今天、返程不晚于去程、或返程超过 windowEnd + 浮动天数的组合会被丢弃。
// 结果按（去程, 返程）排序，相同输入总是得到相同输出。
func DateCombinations(windowStart, windowEnd time.Time, tripDays int, flex model.Flexibility, now time.Time) []DatePair {
	start := model.TruncateDay(windowStart)
	end := model.TruncateDay(windowEnd)
	today := model.TruncateDay(now)
	margin := flex.Margin()
	if tripDays <= 0 || end.Before(start) {
		return nil
	}
	latestReturn := end.AddDate(0, 0, margin)

	var pairs []DatePair
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if day.Before(today) {
			continue
		}
		for offset := -margin; offset <= margin; offset++ {
			nights := tripDays + offset
			if nights <= 0 {
				continue
			}
			ret := day.AddDate(0, 0, nights)
			if ret.After(latestReturn) {
				continue
			}
			pairs = append(pairs, DatePair{Outbound: day, Return: ret})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Outbound.Equal(pairs[j].Outbound) {
			return pairs[i].Return.Before(pairs[j].Return)
		}
		return pairs[i].Outbound.Before(pairs[j].Outbound)
	})
	return pairs
}

// PairSet 把日期组合转换为集合，便于过滤 provider 返回的报价。
func PairSet(pairs []DatePair) map[string]struct{} {
	set := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		set[p.Key()] = struct{}{}
	}
	return set
}
