package notifyqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"flighthunter/internal/alert"
)

// Message 是通知队列中的一条报告投递请求。
//
// 核心检查流程只负责发布；投递结果不回传。
type Message struct {
	TrackerID uint         `json:"tracker_id"`
	To        string       `json:"to"`    // 收件地址
	Alert     bool         `json:"alert"` // 是否为降价提醒（否则为定期摘要）
	Report    alert.Report `json:"report"`
	CreatedAt time.Time    `json:"created_at"`
	Retry     int          `json:"retry"`
}

// NewMessage 创建一条待投递消息。
func NewMessage(to string, report alert.Report) *Message {
	return &Message{
		TrackerID: report.TrackerID,
		To:        to,
		Alert:     report.Decision.Triggered,
		Report:    report,
		CreatedAt: time.Now().UTC(),
	}
}

func parseMessage(data string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.TrackerID == 0 || msg.To == "" {
		return nil, fmt.Errorf("message missing tracker id or recipient")
	}
	return &msg, nil
}
