// Package model содержит доменные сущности сервиса парковки.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// User представляет учётную запись пользователя сервиса.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Customer представляет клиента парковки, привязанного к учётной записи.
type Customer struct {
	ID        int64
	Name      string
	CPF       string
	UserID    int64
	CreatedAt time.Time
}

// SlotStatus описывает состояние парковочного места.
type SlotStatus string

const (
	SlotStatusAvailable   SlotStatus = "AVAILABLE"
	SlotStatusUnavailable SlotStatus = "UNAVAILABLE"
)

// ParkingSlot представляет одно парковочное место.
type ParkingSlot struct {
	ID        int64
	Code      string
	Status    SlotStatus
	CreatedAt time.Time
}

// Vehicle описывает автомобиль; его снимок сохраняется в сессии при заезде.
type Vehicle struct {
	Plate string
	Brand string
	Model string
	Color string
}

// ParkingSession представляет одну парковочную сессию от заезда до выезда.
// Пока Checkout не установлен, сессия открыта и занимает место SlotCode.
type ParkingSession struct {
	ID          int64
	Receipt     string
	Vehicle     Vehicle
	CheckIn     time.Time
	Checkout    *time.Time
	Price       *decimal.Decimal
	Discount    *decimal.Decimal
	CustomerCPF string
	SlotCode    string
}

// Closed сообщает, завершена ли сессия.
func (s *ParkingSession) Closed() bool {
	return s.Checkout != nil
}
