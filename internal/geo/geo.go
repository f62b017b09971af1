// Package geo 提供机场距离计算、半径搜索以及时长/价格格式化。
package geo

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const earthRadiusKm = 6371.0

// Airport 是一个带坐标的机场。
type Airport struct {
	Code string
	Name string
	City string
	Lat  float64
	Lon  float64
}

// Directory 是机场查询数据源。
type Directory interface {
	Lookup(code string) (Airport, bool)
	Nearby(code string, radiusKm float64) []Airport
}

// DistanceKm 使用 haversine 公式计算两点间的大圆距离（公里）。
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// StaticDirectory 是内存中的机场表。
type StaticDirectory struct {
	airports map[string]Airport
}

// NewStaticDirectory 用给定机场创建目录；airports 为空时使用内置表。
func NewStaticDirectory(airports ...Airport) *StaticDirectory {
	if len(airports) == 0 {
		airports = builtinAirports
	}
	m := make(map[string]Airport, len(airports))
	for _, a := range airports {
		m[strings.ToUpper(a.Code)] = a
	}
	return &StaticDirectory{airports: m}
}

// Lookup 按 IATA 代码查询机场。
func (d *StaticDirectory) Lookup(code string) (Airport, bool) {
	a, ok := d.airports[strings.ToUpper(strings.TrimSpace(code))]
	return a, ok
}

// Nearby 返回 radiusKm 范围内的其他机场，按距离升序（不含自身）。
// 未知机场或半径不大于 0 时返回 nil。
func (d *StaticDirectory) Nearby(code string, radiusKm float64) []Airport {
	if radiusKm <= 0 {
		return nil
	}
	origin, ok := d.Lookup(code)
	if !ok {
		return nil
	}
	type hit struct {
		airport Airport
		dist    float64
	}
	var hits []hit
	for c, a := range d.airports {
		if c == origin.Code {
			continue
		}
		dist := DistanceKm(origin.Lat, origin.Lon, a.Lat, a.Lon)
		if dist <= radiusKm {
			hits = append(hits, hit{airport: a, dist: dist})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist == hits[j].dist {
			return hits[i].airport.Code < hits[j].airport.Code
		}
		return hits[i].dist < hits[j].dist
	})
	out := make([]Airport, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.airport)
	}
	return out
}

// ExpandAirports 把 codes 与半径内的邻近机场合并，去重并保持顺序。
func ExpandAirports(dir Directory, codes []string, radiusKm float64) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{})
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, c := range codes {
		add(c)
	}
	if dir == nil || radiusKm <= 0 {
		return out
	}
	for _, c := range codes {
		for _, a := range dir.Nearby(c, radiusKm) {
			add(a.Code)
		}
	}
	return out
}

// FormatDuration 把分钟数格式化为 "12h 05m"。
func FormatDuration(minutes int) string {
	if minutes <= 0 {
		return "0m"
	}
	h, m := minutes/60, minutes%60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}

// FormatPrice 把欧元金额格式化为 "€1,234.50"。
func FormatPrice(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	cents := int64(math.Round(amount * 100))
	whole := fmt.Sprintf("%d", cents/100)
	n := len(whole)
	out := make([]byte, 0, n+n/3)
	for i, ch := range []byte(whole) {
		out = append(out, ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, ',')
		}
	}
	return fmt.Sprintf("%s€%s.%02d", sign, out, cents%100)
}

// FormatPercent 把百分比格式化为一位小数。
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}
