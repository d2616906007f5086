package monitor

import (
	"fmt"
	"strconv"
	"strings"

	"sms-range-relay/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05"

// FormatSMS собирает текст уведомления о новом сообщении. Формат плоский,
// без разметки: текст SMS идёт как есть и не должен ломать парсинг на
// стороне получателя.
func FormatSMS(msg domain.MessageRecord) string {
	var b strings.Builder
	b.WriteString("New SMS Received:\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", msg.ReceivedAt.Format(timestampLayout))
	fmt.Fprintf(&b, "Number: +%s\n", strings.TrimPrefix(msg.Number, "+"))
	fmt.Fprintf(&b, "Message: %s\n", msg.Body)
	fmt.Fprintf(&b, "Range: %s\n", msg.RangeName)
	fmt.Fprintf(&b, "Revenue: %s", strconv.FormatFloat(msg.Revenue, 'f', -1, 64))
	return b.String()
}
