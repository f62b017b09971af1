package dedup

import (
	"strconv"
	"strings"
	"time"

	"flighthunter/internal/model"
)

// Hash 计算航班报价的身份哈希。
//
// 只由（出发地, 目的地, 去程日, 返程日, 航司, 经停次数）决定，
// 不包含价格和时长：同一航班的价格变化不会被视为新的报价。
func Hash(departure, destination string, outbound, ret time.Time, airline string, stops int) string {
	parts := []string{
		strings.ToUpper(strings.TrimSpace(departure)),
		strings.ToUpper(strings.TrimSpace(destination)),
		model.TruncateDay(outbound).Format(time.DateOnly),
		model.TruncateDay(ret).Format(time.DateOnly),
		strings.ToUpper(strings.TrimSpace(airline)),
		strconv.Itoa(stops),
	}
	return hashString(strings.Join(parts, "|"))
}

// OfferHash 计算报价的身份哈希。
func OfferHash(o model.Offer) string {
	return Hash(o.Departure, o.Destination, o.OutboundDate, o.ReturnDate, o.Airline, o.Stops)
}

// CollapseCheapest 为每个报价填充 Hash，并把同一批次内哈希相同的报价合并为最便宜的一条。
//
// 价格相同时保留时长更短的；仍相同则保留先出现的。输出保持首次出现的顺序。
func CollapseCheapest(offers []model.Offer) []model.Offer {
	if len(offers) == 0 {
		return nil
	}
	index := make(map[string]int, len(offers))
	out := make([]model.Offer, 0, len(offers))
	for _, o := range offers {
		o.Hash = OfferHash(o)
		pos, ok := index[o.Hash]
		if !ok {
			index[o.Hash] = len(out)
			out = append(out, o)
			continue
		}
		cur := out[pos]
		if o.Price < cur.Price || (o.Price == cur.Price && o.DurationMinutes < cur.DurationMinutes) {
			out[pos] = o
		}
	}
	return out
}
