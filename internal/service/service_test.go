package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/parking-system/internal/model"
	"github.com/mmeshcher/parking-system/internal/repository"
)

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	customer    *model.Customer
	customerErr error

	createSessionErr    error
	createSessionCalled bool
	createdReceipt      string
	createdCheckIn      time.Time
	createdVehicle      model.Vehicle

	openSession    *model.ParkingSession
	openSessionErr error

	closedCount    int64
	closedCountErr error

	closeSessionErr    error
	closeSessionCalled bool
	closedReceipt      string
	closedCheckout     time.Time
	closedPriceCents   int64
	closedDiscount     int64
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, username, passwordHash string, role model.Role) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	return nil
}

func (s *stubRepo) ListUsers(ctx context.Context) ([]model.User, error) {
	return nil, nil
}

func (s *stubRepo) CreateCustomer(ctx context.Context, name, cpf string, userID int64) (*model.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubRepo) GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubRepo) GetCustomerByCPF(ctx context.Context, cpf string) (*model.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubRepo) GetCustomerByUserID(ctx context.Context, userID int64) (*model.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubRepo) ListCustomers(ctx context.Context, limit, offset int) ([]model.Customer, int64, error) {
	return nil, 0, nil
}

func (s *stubRepo) CreateSlot(ctx context.Context, code string, status model.SlotStatus) (*model.ParkingSlot, error) {
	return nil, nil
}

func (s *stubRepo) GetSlotByCode(ctx context.Context, code string) (*model.ParkingSlot, error) {
	return nil, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, customer *model.Customer, vehicle model.Vehicle, receipt string, checkIn time.Time) (*model.ParkingSession, error) {
	s.createSessionCalled = true
	s.createdReceipt = receipt
	s.createdCheckIn = checkIn
	s.createdVehicle = vehicle

	if s.createSessionErr != nil {
		return nil, s.createSessionErr
	}

	return &model.ParkingSession{
		ID:          1,
		Receipt:     receipt,
		Vehicle:     vehicle,
		CheckIn:     checkIn,
		CustomerCPF: customer.CPF,
		SlotCode:    "A-01",
	}, nil
}

func (s *stubRepo) GetOpenSessionByReceipt(ctx context.Context, receipt string) (*model.ParkingSession, error) {
	return s.openSession, s.openSessionErr
}

func (s *stubRepo) CountClosedSessionsByCPF(ctx context.Context, cpf string) (int64, error) {
	return s.closedCount, s.closedCountErr
}

func (s *stubRepo) CloseSession(ctx context.Context, receipt string, checkout time.Time, priceCents, discountCents int64) (*model.ParkingSession, error) {
	s.closeSessionCalled = true
	s.closedReceipt = receipt
	s.closedCheckout = checkout
	s.closedPriceCents = priceCents
	s.closedDiscount = discountCents

	if s.closeSessionErr != nil {
		return nil, s.closeSessionErr
	}

	session := *s.openSession
	session.Checkout = &checkout
	return &session, nil
}

func (s *stubRepo) ListSessionsByCPF(ctx context.Context, cpf string, limit, offset int) ([]model.ParkingSession, int64, error) {
	return nil, 0, nil
}

func (s *stubRepo) ListSessionsByUserID(ctx context.Context, userID int64, limit, offset int) ([]model.ParkingSession, int64, error) {
	return nil, 0, nil
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo)

	_, err := svc.RegisterUser(context.Background(), "user@mail.com", "secret", model.RoleCustomer)
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}

	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Username:     "user@mail.com",
			PasswordHash: string(hash),
			Role:         model.RoleCustomer,
		},
	}
	svc := NewService(repo)

	_, err = svc.AuthenticateUser(context.Background(), "user@mail.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	u, err := svc.AuthenticateUser(context.Background(), "user@mail.com", "correct")
	if err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}
	if u.ID != 1 {
		t.Fatalf("user ID = %d, want 1", u.ID)
	}
}

func TestUpdatePassword_ConfirmationMismatch(t *testing.T) {
	svc := NewService(&stubRepo{})

	err := svc.UpdatePassword(context.Background(), 1, "old", "new-password", "other")
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
}

func TestCheckIn_CustomerNotFound(t *testing.T) {
	repo := &stubRepo{
		customerErr: repository.ErrCustomerNotFound,
	}
	svc := NewService(repo)

	_, err := svc.CheckIn(context.Background(), "52998224725", model.Vehicle{Plate: "ABC-1234"})
	if !errors.Is(err, repository.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if repo.createSessionCalled {
		t.Fatalf("CreateSession must not be called when customer lookup fails")
	}
}

func TestCheckIn_NoAvailableSlot(t *testing.T) {
	repo := &stubRepo{
		customer:         &model.Customer{ID: 1, CPF: "52998224725"},
		createSessionErr: repository.ErrNoAvailableSlot,
	}
	svc := NewService(repo)

	_, err := svc.CheckIn(context.Background(), "52998224725", model.Vehicle{Plate: "ABC-1234"})
	if !errors.Is(err, repository.ErrNoAvailableSlot) {
		t.Fatalf("expected ErrNoAvailableSlot, got %v", err)
	}
}

func TestCheckIn_CreatesOpenSession(t *testing.T) {
	repo := &stubRepo{
		customer: &model.Customer{ID: 1, CPF: "52998224725"},
	}
	svc := NewService(repo)

	vehicle := model.Vehicle{Plate: "ABC-1234", Brand: "Fiat", Model: "Uno", Color: "white"}

	session, err := svc.CheckIn(context.Background(), "52998224725", vehicle)
	if err != nil {
		t.Fatalf("CheckIn error: %v", err)
	}

	if session.Receipt == "" {
		t.Fatalf("expected generated receipt")
	}
	if session.Closed() {
		t.Fatalf("new session must be open")
	}
	if repo.createdVehicle != vehicle {
		t.Fatalf("vehicle snapshot = %+v, want %+v", repo.createdVehicle, vehicle)
	}
	if time.Since(repo.createdCheckIn) > time.Minute {
		t.Fatalf("check-in time %v is too far in the past", repo.createdCheckIn)
	}
}

func TestCheckout_SessionNotFound(t *testing.T) {
	repo := &stubRepo{
		openSessionErr: repository.ErrSessionNotFound,
	}
	svc := NewService(repo)

	_, err := svc.Checkout(context.Background(), "20240301-183045-abcdef")
	if !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if repo.closeSessionCalled {
		t.Fatalf("CloseSession must not be called when session lookup fails")
	}
}

func TestCheckout_ImmediateUsesMinimumFee(t *testing.T) {
	repo := &stubRepo{
		openSession: &model.ParkingSession{
			ID:          1,
			Receipt:     "20240301-183045-abcdef",
			CheckIn:     time.Now().UTC(),
			CustomerCPF: "52998224725",
			SlotCode:    "A-01",
		},
	}
	svc := NewService(repo)

	session, err := svc.Checkout(context.Background(), "20240301-183045-abcdef")
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	if repo.closedPriceCents != 500 {
		t.Fatalf("price = %d cents, want 500", repo.closedPriceCents)
	}
	if repo.closedDiscount != 0 {
		t.Fatalf("discount = %d cents, want 0", repo.closedDiscount)
	}
	if !session.Closed() {
		t.Fatalf("session must be closed after checkout")
	}
	if session.Checkout.Before(session.CheckIn) {
		t.Fatalf("checkout %v before check-in %v", session.Checkout, session.CheckIn)
	}
}

func TestCheckout_AppliesTieredFee(t *testing.T) {
	// 70 полных минут: первый час + один начатый 15-минутный блок.
	repo := &stubRepo{
		openSession: &model.ParkingSession{
			ID:          1,
			Receipt:     "20240301-183045-abcdef",
			CheckIn:     time.Now().UTC().Add(-70 * time.Minute),
			CustomerCPF: "52998224725",
			SlotCode:    "A-01",
		},
		closedCount: 3,
	}
	svc := NewService(repo)

	if _, err := svc.Checkout(context.Background(), "20240301-183045-abcdef"); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	if repo.closedPriceCents != 1100 {
		t.Fatalf("price = %d cents, want 1100", repo.closedPriceCents)
	}
	if repo.closedDiscount != 0 {
		t.Fatalf("discount = %d cents, want 0 for 3 completed sessions", repo.closedDiscount)
	}
}

func TestCheckout_LoyaltyDiscountOnEveryTenthParking(t *testing.T) {
	repo := &stubRepo{
		openSession: &model.ParkingSession{
			ID:          1,
			Receipt:     "20240301-183045-abcdef",
			CheckIn:     time.Now().UTC().Add(-70 * time.Minute),
			CustomerCPF: "52998224725",
			SlotCode:    "A-01",
		},
		closedCount: 10,
	}
	svc := NewService(repo)

	if _, err := svc.Checkout(context.Background(), "20240301-183045-abcdef"); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	// 11.00 * 0.30 = 3.30
	if repo.closedDiscount != 330 {
		t.Fatalf("discount = %d cents, want 330", repo.closedDiscount)
	}
}

func TestCheckout_CountErrorAbortsClose(t *testing.T) {
	repo := &stubRepo{
		openSession: &model.ParkingSession{
			ID:          1,
			Receipt:     "20240301-183045-abcdef",
			CheckIn:     time.Now().UTC(),
			CustomerCPF: "52998224725",
			SlotCode:    "A-01",
		},
		closedCountErr: errors.New("connection lost"),
	}
	svc := NewService(repo)

	if _, err := svc.Checkout(context.Background(), "20240301-183045-abcdef"); err == nil {
		t.Fatalf("expected error from session count")
	}
	if repo.closeSessionCalled {
		t.Fatalf("CloseSession must not be called when counting fails")
	}
}
