// Package service реализует бизнес-логику сервиса парковки.
package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/parking-system/internal/model"
	"github.com/mmeshcher/parking-system/internal/pricing"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordMismatch возвращается, если новый пароль не совпадает с подтверждением.
	ErrPasswordMismatch = errors.New("new password does not match confirmation")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, username, passwordHash string, role model.Role) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	ListUsers(ctx context.Context) ([]model.User, error)

	CreateCustomer(ctx context.Context, name, cpf string, userID int64) (*model.Customer, error)
	GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error)
	GetCustomerByCPF(ctx context.Context, cpf string) (*model.Customer, error)
	GetCustomerByUserID(ctx context.Context, userID int64) (*model.Customer, error)
	ListCustomers(ctx context.Context, limit, offset int) ([]model.Customer, int64, error)

	CreateSlot(ctx context.Context, code string, status model.SlotStatus) (*model.ParkingSlot, error)
	GetSlotByCode(ctx context.Context, code string) (*model.ParkingSlot, error)

	CreateSession(ctx context.Context, customer *model.Customer, vehicle model.Vehicle, receipt string, checkIn time.Time) (*model.ParkingSession, error)
	GetOpenSessionByReceipt(ctx context.Context, receipt string) (*model.ParkingSession, error)
	CountClosedSessionsByCPF(ctx context.Context, cpf string) (int64, error)
	CloseSession(ctx context.Context, receipt string, checkout time.Time, priceCents, discountCents int64) (*model.ParkingSession, error)
	ListSessionsByCPF(ctx context.Context, cpf string, limit, offset int) ([]model.ParkingSession, int64, error)
	ListSessionsByUserID(ctx context.Context, userID int64, limit, offset int) ([]model.ParkingSession, int64, error)
}

// Service содержит бизнес-логику сервиса парковки.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, username, password string, role model.Role) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	return s.repo.CreateUser(ctx, username, string(hash), role)
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdatePassword меняет пароль пользователя после проверки текущего.
func (s *Service) UpdatePassword(ctx context.Context, id int64, current, newPassword, confirmation string) error {
	if newPassword != confirmation {
		return ErrPasswordMismatch
	}

	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.repo.UpdateUserPassword(ctx, id, string(hash))
}

// CreateCustomer создаёт клиента, привязанного к текущему пользователю.
func (s *Service) CreateCustomer(ctx context.Context, userID int64, name, cpf string) (*model.Customer, error) {
	return s.repo.CreateCustomer(ctx, name, cpf, userID)
}

// GetCustomerByID возвращает клиента по идентификатору.
func (s *Service) GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error) {
	return s.repo.GetCustomerByID(ctx, id)
}

// GetCustomerByUserID возвращает клиента, привязанного к пользователю.
func (s *Service) GetCustomerByUserID(ctx context.Context, userID int64) (*model.Customer, error) {
	return s.repo.GetCustomerByUserID(ctx, userID)
}

// ListCustomers возвращает страницу клиентов и их общее количество.
func (s *Service) ListCustomers(ctx context.Context, limit, offset int) ([]model.Customer, int64, error) {
	return s.repo.ListCustomers(ctx, limit, offset)
}

// CreateSlot создаёт парковочное место.
func (s *Service) CreateSlot(ctx context.Context, code string, status model.SlotStatus) (*model.ParkingSlot, error) {
	return s.repo.CreateSlot(ctx, code, status)
}

// GetSlotByCode возвращает парковочное место по коду.
func (s *Service) GetSlotByCode(ctx context.Context, code string) (*model.ParkingSlot, error) {
	return s.repo.GetSlotByCode(ctx, code)
}

// CheckIn регистрирует заезд: находит клиента по CPF, резервирует свободное
// место и создаёт открытую сессию с новой квитанцией. Резервирование места и
// запись сессии выполняются в одной транзакции репозитория.
func (s *Service) CheckIn(ctx context.Context, cpf string, vehicle model.Vehicle) (*model.ParkingSession, error) {
	customer, err := s.repo.GetCustomerByCPF(ctx, cpf)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	receipt := pricing.GenerateReceipt(now)

	return s.repo.CreateSession(ctx, customer, vehicle, receipt, now)
}

// FindSessionByReceipt возвращает открытую сессию по квитанции.
func (s *Service) FindSessionByReceipt(ctx context.Context, receipt string) (*model.ParkingSession, error) {
	return s.repo.GetOpenSessionByReceipt(ctx, receipt)
}

// Checkout завершает сессию: вычисляет стоимость по тарифной сетке и скидку
// лояльности по числу прежних завершённых парковок клиента, затем в одной
// транзакции закрывает сессию и освобождает место.
func (s *Service) Checkout(ctx context.Context, receipt string) (*model.ParkingSession, error) {
	session, err := s.repo.GetOpenSessionByReceipt(ctx, receipt)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fee := pricing.CalculateFee(session.CheckIn, now)

	completed, err := s.repo.CountClosedSessionsByCPF(ctx, session.CustomerCPF)
	if err != nil {
		return nil, err
	}
	discount := pricing.CalculateDiscount(fee, completed)

	return s.repo.CloseSession(ctx, receipt, now, fee.Shift(2).IntPart(), discount.Shift(2).IntPart())
}

// ListSessionsByCPF возвращает страницу сессий клиента по CPF.
func (s *Service) ListSessionsByCPF(ctx context.Context, cpf string, limit, offset int) ([]model.ParkingSession, int64, error) {
	return s.repo.ListSessionsByCPF(ctx, cpf, limit, offset)
}

// ListSessionsByUserID возвращает страницу сессий клиента текущего пользователя.
func (s *Service) ListSessionsByUserID(ctx context.Context, userID int64, limit, offset int) ([]model.ParkingSession, int64, error) {
	return s.repo.ListSessionsByUserID(ctx, userID, limit, offset)
}
