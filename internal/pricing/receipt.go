package pricing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const receiptTimeLayout = "20060102-150405"

// GenerateReceipt формирует уникальный номер квитанции. Основа — отметка
// времени заезда с точностью до секунды, суффикс из случайного UUID исключает
// коллизии при заездах в одну секунду.
func GenerateReceipt(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return now.UTC().Format(receiptTimeLayout) + "-" + suffix
}
