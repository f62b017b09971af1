package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// TrackerStatus 表示追踪器的生命周期状态。
type TrackerStatus string

const (
	StatusActive  TrackerStatus = "ACTIVE"  // 正常调度
	StatusPaused  TrackerStatus = "PAUSED"  // 用户暂停
	StatusError   TrackerStatus = "ERROR"   // 上次检查失败，下次成功检查后恢复
	StatusExpired TrackerStatus = "EXPIRED" // 日期窗口已结束（终态）
)

// Flexibility 表示行程天数允许的对称浮动（天）。
type Flexibility int

const (
	FlexExact      Flexibility = 0
	FlexPlusMinus1 Flexibility = 1
	FlexPlusMinus2 Flexibility = 2
)

// Margin 返回浮动天数。
func (f Flexibility) Margin() int {
	switch f {
	case FlexPlusMinus1:
		return 1
	case FlexPlusMinus2:
		return 2
	default:
		return 0
	}
}

// ParseFlexibility 解析 "EXACT" / "PLUS_MINUS_1" / "PLUS_MINUS_2"。
func ParseFlexibility(s string) (Flexibility, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "EXACT", "0":
		return FlexExact, nil
	case "PLUS_MINUS_1", "1", "+-1":
		return FlexPlusMinus1, nil
	case "PLUS_MINUS_2", "2", "+-2":
		return FlexPlusMinus2, nil
	}
	return FlexExact, fmt.Errorf("unknown flexibility %q", s)
}

func (f Flexibility) String() string {
	switch f {
	case FlexPlusMinus1:
		return "PLUS_MINUS_1"
	case FlexPlusMinus2:
		return "PLUS_MINUS_2"
	default:
		return "EXACT"
	}
}

// Cabin 舱位等级。
type Cabin string

const (
	CabinEconomy        Cabin = "ECONOMY"
	CabinPremiumEconomy Cabin = "PREMIUM_ECONOMY"
	CabinBusiness       Cabin = "BUSINESS"
	CabinFirst          Cabin = "FIRST"
)

// Luggage 行李偏好。
type Luggage string

const (
	LuggageNone    Luggage = "NONE"
	LuggageCabin   Luggage = "CABIN"
	LuggageChecked Luggage = "CHECKED"
)

// AirportList 是 IATA 代码列表，在数据库中以逗号分隔的字符串保存。
type AirportList []string

// Value 实现 driver.Valuer。
func (a AirportList) Value() (driver.Value, error) {
	return strings.Join(a, ","), nil
}

// Scan 实现 sql.Scanner。
func (a *AirportList) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan airport list: unsupported type %T", src)
	}
	*a = NormalizeAirports(strings.Split(raw, ","))
	return nil
}

// NormalizeAirports 去空白、转大写并去重，保持原有顺序。
func NormalizeAirports(codes []string) AirportList {
	out := make(AirportList, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Tracker 表示一个用户保存的往返机票搜索条件。
//
// 由用户创建；只会被暂停/恢复操作以及检查流程（状态、最后检查时间）修改。
// 删除时级联删除其所有观测记录。
type Tracker struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	OwnerID uint   `gorm:"not null;index"`     // 所属用户 ID
	Owner   User   `gorm:"foreignKey:OwnerID"` // 所属用户
	Name    string `gorm:"type:varchar(191);not null"`

	Departures        AirportList `gorm:"type:varchar(512);not null"` // 出发机场
	Destinations      AirportList `gorm:"type:varchar(512);not null"` // 目的地机场
	DepartureRadiusKm int         `gorm:"default:0"`                  // 出发地搜索半径（公里，0 表示仅使用所选机场）

	WindowStart time.Time   `gorm:"type:date;not null"` // 日期窗口开始
	WindowEnd   time.Time   `gorm:"type:date;not null"` // 日期窗口结束
	TripDays    int         `gorm:"not null"`           // 行程天数
	Flexibility Flexibility `gorm:"default:0"`          // 行程天数浮动

	Cabin      Cabin   `gorm:"type:varchar(32);default:ECONOMY"`
	Luggage    Luggage `gorm:"type:varchar(16);default:NONE"`
	Passengers int     `gorm:"default:1"`
	Cadence    string  `gorm:"type:varchar(64);default:DAILY"` // DAILY / WEEKLY / HOURLY / cron 表达式

	AlertPercent  *float64 // 百分比降价阈值
	AlertAmount   *float64 // 绝对价格阈值（EUR）
	NotifyEnabled bool     `gorm:"default:true"`

	Status        TrackerStatus `gorm:"type:varchar(16);default:ACTIVE;index"`
	LastError     string        `gorm:"type:varchar(512)"`
	LastCheckedAt *time.Time

	Observations []FlightObservation `gorm:"foreignKey:TrackerID;constraint:OnDelete:CASCADE"`
}

// Route 返回 "FRA,MUC → JFK" 形式的路线描述。
func (t *Tracker) Route() string {
	return strings.Join(t.Departures, ",") + " → " + strings.Join(t.Destinations, ",")
}

// Checkable 报告该追踪器是否允许执行检查。ERROR 状态允许检查以便恢复。
func (t *Tracker) Checkable() bool {
	return t.Status == StatusActive || t.Status == StatusError
}

// WindowElapsed 报告日期窗口是否已完全结束。
func (t *Tracker) WindowElapsed(now time.Time) bool {
	return TruncateDay(t.WindowEnd).Before(TruncateDay(now))
}

// FlightObservation 表示一次检查中看到的一条标准化报价。
//
// 只追加、不修改：每次检查写入新的批次（CheckedAt 相同）。
type FlightObservation struct {
	ID        uint      `gorm:"primaryKey"`
	TrackerID uint      `gorm:"not null;index:idx_tracker_checked,priority:1"`
	CheckedAt time.Time `gorm:"not null;index:idx_tracker_checked,priority:2"` // 批次时间戳

	Departure       string    `gorm:"type:varchar(8);not null"`
	Destination     string    `gorm:"type:varchar(8);not null"`
	OutboundDate    time.Time `gorm:"type:date;not null"`
	ReturnDate      time.Time `gorm:"type:date;not null"`
	Price           float64   `gorm:"type:decimal(12,2);not null"` // EUR
	Currency        string    `gorm:"type:varchar(3);default:EUR"`
	Airline         string    `gorm:"type:varchar(64)"`
	Stops           int
	DurationMinutes int
	LuggageIncluded bool
	BookingLink     string `gorm:"type:varchar(1024)"`
	Source          string `gorm:"type:varchar(32);not null"` // 数据来源（provider 名称）
	Hash            string `gorm:"type:char(64);index;not null"`
}

// Offer 返回与该观测对应的报价。
func (o FlightObservation) Offer() Offer {
	return Offer{
		Departure:       o.Departure,
		Destination:     o.Destination,
		OutboundDate:    o.OutboundDate,
		ReturnDate:      o.ReturnDate,
		Price:           o.Price,
		Currency:        o.Currency,
		Airline:         o.Airline,
		Stops:           o.Stops,
		DurationMinutes: o.DurationMinutes,
		LuggageIncluded: o.LuggageIncluded,
		BookingLink:     o.BookingLink,
		Source:          o.Source,
		Hash:            o.Hash,
	}
}

// Offer 是 provider 返回的标准化报价（不落库）。
type Offer struct {
	Departure       string    `json:"departure"`
	Destination     string    `json:"destination"`
	OutboundDate    time.Time `json:"outbound_date"`
	ReturnDate      time.Time `json:"return_date"`
	Price           float64   `json:"price"`
	Currency        string    `json:"currency"`
	Airline         string    `json:"airline"`
	Stops           int       `json:"stops"`
	DurationMinutes int       `json:"duration_minutes"`
	LuggageIncluded bool      `json:"luggage_included"`
	BookingLink     string    `json:"booking_link"`
	Source          string    `json:"source"`
	Hash            string    `json:"hash,omitempty"`
}

// Observation 用批次信息把报价转换为待写入的观测记录。
func (o Offer) Observation(trackerID uint, checkedAt time.Time) FlightObservation {
	currency := o.Currency
	if currency == "" {
		currency = "EUR"
	}
	return FlightObservation{
		TrackerID:       trackerID,
		CheckedAt:       checkedAt,
		Departure:       o.Departure,
		Destination:     o.Destination,
		OutboundDate:    TruncateDay(o.OutboundDate),
		ReturnDate:      TruncateDay(o.ReturnDate),
		Price:           o.Price,
		Currency:        currency,
		Airline:         o.Airline,
		Stops:           o.Stops,
		DurationMinutes: o.DurationMinutes,
		LuggageIncluded: o.LuggageIncluded,
		BookingLink:     o.BookingLink,
		Source:          o.Source,
		Hash:            o.Hash,
	}
}

// BatchWindow 同一批次内观测时间戳允许的最大间隔。
const BatchWindow = 60 * time.Second

// Batch 是共享同一批次时间戳的一组观测。
type Batch struct {
	CheckedAt    time.Time
	Observations []FlightObservation
}

// Offers 返回批次中的全部报价。
func (b *Batch) Offers() []Offer {
	if b == nil {
		return nil
	}
	out := make([]Offer, 0, len(b.Observations))
	for _, o := range b.Observations {
		out = append(out, o.Offer())
	}
	return out
}

// TruncateDay 把时间截断到 UTC 自然日。
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
