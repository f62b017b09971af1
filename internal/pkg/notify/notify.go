// Package notify 把检查报告渲染为邮件并发送。
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"flighthunter/internal/alert"
	"flighthunter/internal/geo"
	"flighthunter/internal/model"
)

// Notifier 定义通知接口。
type Notifier interface {
	// Send 发送一份报告。
	//
	// 参数:
	//   ctx: 上下文
	//   report: 检查报告
	//   to: 接收邮箱
	Send(ctx context.Context, report alert.Report, to string) error
}

const dateLayout = "2006-01-02"

// Subject 返回邮件标题。
func Subject(r alert.Report) string {
	if r.Decision.Triggered {
		subject := fmt.Sprintf("[FlightHunter] ✈️ 降价提醒 %s %s", r.Route, geo.FormatPrice(r.Decision.NewestCheapest))
		if r.Decision.HasPrevious && r.Decision.Drop() > 0 {
			subject += fmt.Sprintf(" (-%s)", geo.FormatPercent(r.Decision.Drop()))
		}
		return subject
	}
	return fmt.Sprintf("[FlightHunter] 价格摘要 %s", r.TrackerName)
}

// RenderText 渲染纯文本正文。
func RenderText(r alert.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", r.TrackerName, r.Route)
	fmt.Fprintf(&b, "日期窗口: %s ~ %s, %d 天 (%s), %s, %d 人\n",
		r.WindowStart.Format(dateLayout), r.WindowEnd.Format(dateLayout),
		r.TripDays, r.Flexibility, r.Cabin, r.Passengers)
	if !r.CheckedAt.IsZero() {
		fmt.Fprintf(&b, "检查时间: %s, 共 %d 条报价\n", r.CheckedAt.UTC().Format("2006-01-02 15:04 MST"), r.OfferCount)
	}
	b.WriteString("\n")

	if line := changeLine(r.Decision); line != "" {
		b.WriteString(line + "\n\n")
	}

	if r.Best == nil {
		b.WriteString("本次检查没有找到任何报价。\n")
		return b.String()
	}
	b.WriteString("最低价:\n")
	b.WriteString("  " + offerLine(*r.Best) + "\n")
	if r.Best.BookingLink != "" {
		b.WriteString("  " + r.Best.BookingLink + "\n")
	}
	if len(r.Top) > 0 {
		b.WriteString("\n其他报价:\n")
		for _, o := range r.Top {
			b.WriteString("  " + offerLine(o) + "\n")
		}
	}
	return b.String()
}

// RenderHTML 渲染 HTML 正文。
func RenderHTML(r alert.Report) string {
	header := "[FlightHunter] 价格摘要"
	if r.Decision.Triggered {
		header = "[FlightHunter] ✈️ 降价提醒"
	}

	var summary string
	if line := changeLine(r.Decision); line != "" {
		summary = fmt.Sprintf(`<div class="change">%s</div>`, html.EscapeString(line))
	}

	var best, rows string
	if r.Best == nil {
		best = `<div class="empty">本次检查没有找到任何报价。</div>`
	} else {
		best = fmt.Sprintf(`<div class="price">%s</div>
      <div class="title">%s</div>`,
			geo.FormatPrice(r.Best.Price), html.EscapeString(offerLine(*r.Best)))
		if r.Best.BookingLink != "" {
			best += fmt.Sprintf(`
      <div style="text-align:center; margin: 12px 0;">
        <a class="cta" href="%s" target="_blank">立即预订</a>
      </div>`, html.EscapeString(r.Best.BookingLink))
		}
		var rb strings.Builder
		for _, o := range r.Top {
			fmt.Fprintf(&rb, `<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
				html.EscapeString(o.Departure+" → "+o.Destination),
				o.OutboundDate.Format(dateLayout)+" / "+o.ReturnDate.Format(dateLayout),
				html.EscapeString(o.Airline),
				stopsLabel(o.Stops)+", "+geo.FormatDuration(o.DurationMinutes),
				geo.FormatPrice(o.Price))
		}
		if rb.Len() > 0 {
			rows = `<table class="offers">` + rb.String() + `</table>`
		}
	}

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .route { font-size: 18px; font-weight: bold; margin-bottom: 4px; }
  .meta { font-size: 13px; color: #6b7280; margin-bottom: 16px; }
  .change { font-size: 14px; color: #16a34a; margin-bottom: 12px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 15px; margin-bottom: 16px; }
  .offers { width: 100%%; border-collapse: collapse; font-size: 13px; }
  .offers td { border-top: 1px solid #e5e7eb; padding: 6px 4px; }
  .cta { display: inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">%s</div>
    <div class="content">
      <div class="route">%s</div>
      <div class="meta">%s</div>
      %s
      %s
      %s
      <div class="footer">追踪器: %s · 共 %d 条报价</div>
    </div>
  </div>
</body>
</html>`

	meta := fmt.Sprintf("%s ~ %s · %d 天 (%s) · %s · %d 人",
		r.WindowStart.Format(dateLayout), r.WindowEnd.Format(dateLayout),
		r.TripDays, r.Flexibility, r.Cabin, r.Passengers)

	return fmt.Sprintf(template,
		header,
		html.EscapeString(r.Route),
		html.EscapeString(meta),
		summary,
		best,
		rows,
		html.EscapeString(r.TrackerName),
		r.OfferCount)
}

func changeLine(d alert.Decision) string {
	if !d.HasNewest || !d.HasPrevious {
		return ""
	}
	switch {
	case d.AbsoluteChange < 0:
		return fmt.Sprintf("最低价 %s → %s，下降 %s (%s)",
			geo.FormatPrice(d.PreviousCheapest), geo.FormatPrice(d.NewestCheapest),
			geo.FormatPrice(-d.AbsoluteChange), geo.FormatPercent(d.Drop()))
	case d.AbsoluteChange > 0:
		return fmt.Sprintf("最低价 %s → %s，上涨 %s",
			geo.FormatPrice(d.PreviousCheapest), geo.FormatPrice(d.NewestCheapest),
			geo.FormatPrice(d.AbsoluteChange))
	default:
		return fmt.Sprintf("最低价不变: %s", geo.FormatPrice(d.NewestCheapest))
	}
}

func offerLine(o model.Offer) string {
	return fmt.Sprintf("%s → %s  %s / %s  %s  %s, %s  %s",
		o.Departure, o.Destination,
		o.OutboundDate.Format(dateLayout), o.ReturnDate.Format(dateLayout),
		o.Airline, stopsLabel(o.Stops), geo.FormatDuration(o.DurationMinutes),
		geo.FormatPrice(o.Price))
}

func stopsLabel(stops int) string {
	switch stops {
	case 0:
		return "直飞"
	case 1:
		return "1 次经停"
	default:
		return fmt.Sprintf("%d 次经停", stops)
	}
}
