// Package pricing вычисляет стоимость парковки и скидку лояльности.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	// Тарифная сетка: фиксированная плата за первые 15 минут и за первый час,
	// далее доплата за каждые начатые 15 минут.
	feeFirst15Minutes    = decimal.RequireFromString("5.00")
	feeFirstHour         = decimal.RequireFromString("9.25")
	feePerExtraQuarter   = decimal.RequireFromString("1.75")
	loyaltyDiscountShare = decimal.RequireFromString("0.30")
)

// CalculateFee вычисляет стоимость парковки за период от checkIn до checkout.
// Учитываются только полные прошедшие минуты; неполные 15-минутные блоки сверх
// первого часа оплачиваются целиком. Результат округлён до 2 знаков по
// банковскому правилу (round half to even).
func CalculateFee(checkIn, checkout time.Time) decimal.Decimal {
	minutes := int64(checkout.Sub(checkIn).Minutes())

	var fee decimal.Decimal
	switch {
	case minutes <= 15:
		fee = feeFirst15Minutes
	case minutes <= 60:
		fee = feeFirstHour
	default:
		extraQuarters := (minutes - 60 + 14) / 15
		fee = feeFirstHour.Add(feePerExtraQuarter.Mul(decimal.NewFromInt(extraQuarters)))
	}

	return fee.RoundBank(2)
}

// CalculateDiscount вычисляет скидку лояльности: каждая десятая завершённая
// парковка даёт 30% от стоимости текущей. completed — число ранее завершённых
// сессий клиента, текущая не считается; при нуле скидки нет.
func CalculateDiscount(fee decimal.Decimal, completed int64) decimal.Decimal {
	if completed > 0 && completed%10 == 0 {
		return fee.Mul(loyaltyDiscountShare).RoundBank(2)
	}
	return decimal.Zero.RoundBank(2)
}
