package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flighthunter/internal/model"
	"flighthunter/internal/search"
)

const (
	tequilaSearchPath  = "/v2/search"
	tequilaDateLayout  = "02/01/2006"
	defaultMaxCodes    = 5
	defaultResultLimit = 200
)

// TequilaConfig Tequila（Kiwi.com）搜索 API 配置。
type TequilaConfig struct {
	BaseURL         string
	APIKey          string
	MaxCodesPerCall int
	ResultLimit     int
}

// Tequila 通过 Tequila /v2/search 查询往返报价。
type Tequila struct {
	cfg     TequilaConfig
	client  *http.Client
	limiter Limiter
	logger  *slog.Logger
}

// NewTequila 创建 Tequila 数据源。
func NewTequila(cfg TequilaConfig, client *http.Client, limiter Limiter, logger *slog.Logger) *Tequila {
	if cfg.MaxCodesPerCall <= 0 {
		cfg.MaxCodesPerCall = defaultMaxCodes
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = defaultResultLimit
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = defaultHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tequila{cfg: cfg, client: client, limiter: limiter, logger: logger}
}

// Name 实现 Provider。
func (t *Tequila) Name() string { return string(KindTequila) }

// Search 实现 Provider。
//
// 机场列表按 MaxCodesPerCall 分组，每个（出发组, 目的地组）组合发起一次请求。
// 单个分组失败只记录日志；所有分组都失败时返回 *Error。
func (t *Tequila) Search(ctx context.Context, req search.Request) ([]model.Offer, error) {
	pairs := req.DatePairs()
	if len(pairs) == 0 {
		return nil, nil
	}
	allowed := search.PairSet(pairs)

	var (
		offers  []model.Offer
		calls   int
		lastErr error
		failed  int
	)
	for _, from := range chunk(req.Departures, t.cfg.MaxCodesPerCall) {
		for _, to := range chunk(req.Destinations, t.cfg.MaxCodesPerCall) {
			if err := ctx.Err(); err != nil {
				return nil, &Error{Provider: t.Name(), Op: "search", Err: err}
			}
			calls++
			got, err := t.searchChunk(ctx, req, pairs, from, to)
			if err != nil {
				failed++
				lastErr = err
				t.logger.Warn("tequila chunk failed",
					slog.Uint64("tracker_id", uint64(req.TrackerID)),
					slog.String("from", strings.Join(from, ",")),
					slog.String("to", strings.Join(to, ",")),
					slog.String("error", err.Error()))
				continue
			}
			for _, o := range got {
				key := search.DatePair{Outbound: o.OutboundDate, Return: o.ReturnDate}.Key()
				if _, ok := allowed[key]; ok {
					offers = append(offers, o)
				}
			}
		}
	}
	if calls > 0 && failed == calls {
		return nil, &Error{Provider: t.Name(), Op: "search", Err: lastErr}
	}
	return offers, nil
}

func (t *Tequila) searchChunk(ctx context.Context, req search.Request, pairs []search.DatePair, from, to []string) ([]model.Offer, error) {
	if t.limiter != nil {
		if err := t.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := t.cfg.BaseURL + tequilaSearchPath + "?" + t.query(req, pairs, from, to).Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("apikey", t.cfg.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("tequila status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("tequila status %d", resp.StatusCode)
	}

	var parsed tequilaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return t.convert(parsed, req), nil
}

// query 构建请求参数。日期窗口由第一个和最后一个候选去程日决定，
// 停留天数范围由候选组合的最小/最大晚数决定。
func (t *Tequila) query(req search.Request, pairs []search.DatePair, from, to []string) url.Values {
	first, last := pairs[0].Outbound, pairs[len(pairs)-1].Outbound
	minNights, maxNights := pairs[0].Nights(), pairs[0].Nights()
	for _, p := range pairs[1:] {
		n := p.Nights()
		if n < minNights {
			minNights = n
		}
		if n > maxNights {
			maxNights = n
		}
	}

	q := url.Values{}
	q.Set("fly_from", strings.Join(from, ","))
	q.Set("fly_to", strings.Join(to, ","))
	q.Set("date_from", first.Format(tequilaDateLayout))
	q.Set("date_to", last.Format(tequilaDateLayout))
	q.Set("nights_in_dst_from", strconv.Itoa(minNights))
	q.Set("nights_in_dst_to", strconv.Itoa(maxNights))
	q.Set("flight_type", "round")
	q.Set("selected_cabins", cabinCode(req.Cabin))
	q.Set("adults", strconv.Itoa(max(req.Passengers, 1)))
	q.Set("curr", BaseCurrency)
	q.Set("limit", strconv.Itoa(t.cfg.ResultLimit))
	switch req.Luggage {
	case model.LuggageCabin:
		q.Set("adult_hand_bag", strings.TrimSuffix(strings.Repeat("1,", max(req.Passengers, 1)), ","))
	case model.LuggageChecked:
		q.Set("adult_hold_bag", strings.TrimSuffix(strings.Repeat("1,", max(req.Passengers, 1)), ","))
	}
	return q
}

type tequilaResponse struct {
	Currency string          `json:"currency"`
	Data     []tequilaResult `json:"data"`
}

type tequilaResult struct {
	FlyFrom        string         `json:"flyFrom"`
	FlyTo          string         `json:"flyTo"`
	Price          float64        `json:"price"`
	Airlines       []string       `json:"airlines"`
	DeepLink       string         `json:"deep_link"`
	LocalDeparture string         `json:"local_departure"`
	Duration       tequilaTimes   `json:"duration"`
	Route          []tequilaRoute `json:"route"`
}

type tequilaTimes struct {
	Departure int `json:"departure"`
	Return    int `json:"return"`
	Total     int `json:"total"`
}

type tequilaRoute struct {
	FlyFrom        string `json:"flyFrom"`
	FlyTo          string `json:"flyTo"`
	Airline        string `json:"airline"`
	LocalDeparture string `json:"local_departure"`
	Return         int    `json:"return"`
}

func (t *Tequila) convert(resp tequilaResponse, req search.Request) []model.Offer {
	out := make([]model.Offer, 0, len(resp.Data))
	for _, r := range resp.Data {
		o, err := t.toOffer(r, resp.Currency, req)
		if err != nil {
			t.logger.Debug("skip tequila result",
				slog.String("from", r.FlyFrom),
				slog.String("to", r.FlyTo),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, o)
	}
	return out
}

func (t *Tequila) toOffer(r tequilaResult, currency string, req search.Request) (model.Offer, error) {
	outbound, err := parseTequilaTime(r.LocalDeparture)
	if err != nil {
		return model.Offer{}, fmt.Errorf("outbound time: %w", err)
	}

	var ret time.Time
	var outLegs, returnLegs int
	for _, leg := range r.Route {
		if leg.Return == 1 {
			if returnLegs == 0 {
				if ret, err = parseTequilaTime(leg.LocalDeparture); err != nil {
					return model.Offer{}, fmt.Errorf("return time: %w", err)
				}
			}
			returnLegs++
			continue
		}
		outLegs++
	}
	if returnLegs == 0 {
		return model.Offer{}, errors.New("missing return leg")
	}

	price, err := NormalizePrice(r.Price, currency)
	if err != nil {
		return model.Offer{}, err
	}

	airline := ""
	if len(r.Airlines) > 0 {
		airline = r.Airlines[0]
	}
	seconds := r.Duration.Total
	if seconds == 0 {
		seconds = r.Duration.Departure + r.Duration.Return
	}

	return model.Offer{
		Departure:       strings.ToUpper(r.FlyFrom),
		Destination:     strings.ToUpper(r.FlyTo),
		OutboundDate:    model.TruncateDay(outbound),
		ReturnDate:      model.TruncateDay(ret),
		Price:           price,
		Currency:        BaseCurrency,
		Airline:         airline,
		Stops:           max(outLegs, returnLegs) - 1,
		DurationMinutes: seconds / 60,
		LuggageIncluded: req.Luggage != model.LuggageNone && req.Luggage != "",
		BookingLink:     r.DeepLink,
		Source:          t.Name(),
	}, nil
}

func parseTequilaTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339, raw)
}

func cabinCode(c model.Cabin) string {
	switch c {
	case model.CabinPremiumEconomy:
		return "W"
	case model.CabinBusiness:
		return "C"
	case model.CabinFirst:
		return "F"
	default:
		return "M"
	}
}

// chunk 把 codes 切分为不超过 size 的分组。
func chunk(codes []string, size int) [][]string {
	if size <= 0 {
		size = defaultMaxCodes
	}
	var out [][]string
	for start := 0; start < len(codes); start += size {
		end := min(start+size, len(codes))
		out = append(out, codes[start:end])
	}
	return out
}
