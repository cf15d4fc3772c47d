package models

import "github.com/shopspring/decimal"

// Currency used for every order and payment.
const Currency = "INR"

// RoundMoney rounds an amount to two decimal places.
func RoundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// ToMinorUnits converts rupees to paise.
func ToMinorUnits(v float64) int64 {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts paise to rupees.
func FromMinorUnits(v int64) float64 {
	return decimal.New(v, -2).InexactFloat64()
}
