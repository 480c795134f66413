// Package handler содержит HTTP-обработчики API сервиса парковки.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/parking-system/internal/middleware"
	"github.com/mmeshcher/parking-system/internal/model"
	"github.com/mmeshcher/parking-system/internal/repository"
	"github.com/mmeshcher/parking-system/internal/service"
	"github.com/mmeshcher/parking-system/internal/validation"
)

const (
	timeLayout      = "2006-01-02 15:04:05"
	defaultPageSize = 5
	maxPageSize     = 100
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, username, password string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdatePassword(ctx context.Context, id int64, current, newPassword, confirmation string) error

	CreateCustomer(ctx context.Context, userID int64, name, cpf string) (*model.Customer, error)
	GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error)
	GetCustomerByUserID(ctx context.Context, userID int64) (*model.Customer, error)
	ListCustomers(ctx context.Context, limit, offset int) ([]model.Customer, int64, error)

	CreateSlot(ctx context.Context, code string, status model.SlotStatus) (*model.ParkingSlot, error)
	GetSlotByCode(ctx context.Context, code string) (*model.ParkingSlot, error)

	CheckIn(ctx context.Context, cpf string, vehicle model.Vehicle) (*model.ParkingSession, error)
	FindSessionByReceipt(ctx context.Context, receipt string) (*model.ParkingSession, error)
	Checkout(ctx context.Context, receipt string) (*model.ParkingSession, error)
	ListSessionsByCPF(ctx context.Context, cpf string, limit, offset int) ([]model.ParkingSession, int64, error)
	ListSessionsByUserID(ctx context.Context, userID int64, limit, offset int) ([]model.ParkingSession, int64, error)
}

// Handler реализует HTTP-обработчики API сервиса парковки.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Authenticate проверяет учётные данные и выдаёт JWT-токен.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("authenticate error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, err := h.authMiddleware.GenerateToken(user.ID, user.Role)
	if err != nil {
		h.logger.Error("generate token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type userCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// CreateUser регистрирует новую учётную запись. Роль по умолчанию — CUSTOMER.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || len(req.Password) < 6 {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	role := model.RoleCustomer
	if req.Role != "" {
		role = model.Role(req.Role)
		if role != model.RoleAdmin && role != model.RoleCustomer {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
	}

	id, err := h.service.RegisterUser(r.Context(), req.Username, req.Password, role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("create user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{ID: id, Username: req.Username, Role: string(role)})
}

// GetUser возвращает пользователя по идентификатору. Клиент видит только себя.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	currentID, _ := middleware.GetUserIDFromContext(r.Context())
	role, _ := middleware.GetRoleFromContext(r.Context())
	if role != model.RoleAdmin && currentID != id {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Username: user.Username, Role: string(user.Role)})
}

// ListUsers возвращает всех пользователей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{ID: u.ID, Username: u.Username, Role: string(u.Role)})
	}

	writeJSON(w, http.StatusOK, resp)
}

type passwordUpdateRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// UpdateUserPassword меняет пароль текущего пользователя.
func (h *Handler) UpdateUserPassword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	currentID, _ := middleware.GetUserIDFromContext(r.Context())
	if currentID != id {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req passwordUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if len(req.NewPassword) < 6 {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	err = h.service.UpdatePassword(r.Context(), id, req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPasswordMismatch):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrInvalidCredentials):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("update password error", zap.Error(err), zap.Int64("userID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type customerCreateRequest struct {
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

type customerResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

// CreateCustomer создаёт клиента парковки для текущего пользователя.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req customerCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if len(req.Name) < 3 || !validation.IsValidCPF(req.CPF) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	customer, err := h.service.CreateCustomer(r.Context(), userID, req.Name, req.CPF)
	if err != nil {
		if errors.Is(err, repository.ErrCPFExists) || errors.Is(err, repository.ErrCustomerExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("create customer error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, customerResponse{ID: customer.ID, Name: customer.Name, CPF: customer.CPF})
}

// GetCustomer возвращает клиента по идентификатору.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customer, err := h.service.GetCustomerByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get customer error", zap.Error(err), zap.Int64("customerID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, customerResponse{ID: customer.ID, Name: customer.Name, CPF: customer.CPF})
}

// GetCustomerDetails возвращает клиента, привязанного к текущему пользователю.
func (h *Handler) GetCustomerDetails(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	customer, err := h.service.GetCustomerByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get customer details error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, customerResponse{ID: customer.ID, Name: customer.Name, CPF: customer.CPF})
}

// ListCustomers возвращает страницу клиентов.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	page, size := parsePagination(r)

	customers, total, err := h.service.ListCustomers(r.Context(), size, (page-1)*size)
	if err != nil {
		h.logger.Error("list customers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	content := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		content = append(content, customerResponse{ID: c.ID, Name: c.Name, CPF: c.CPF})
	}

	writeJSON(w, http.StatusOK, newPageResponse(content, page, size, total))
}

type slotCreateRequest struct {
	Code   string `json:"code"`
	Status string `json:"status"`
}

type slotResponse struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Status string `json:"status"`
}

// CreateSlot создаёт парковочное место.
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req slotCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.SlotStatus(req.Status)
	if len(req.Code) != 4 || (status != model.SlotStatusAvailable && status != model.SlotStatusUnavailable) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	slot, err := h.service.CreateSlot(r.Context(), req.Code, status)
	if err != nil {
		if errors.Is(err, repository.ErrSlotCodeExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("create slot error", zap.Error(err), zap.String("code", req.Code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+slot.Code)
	w.WriteHeader(http.StatusCreated)
}

// GetSlot возвращает парковочное место по коду.
func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	slot, err := h.service.GetSlotByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get slot error", zap.Error(err), zap.String("code", code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, slotResponse{ID: slot.ID, Code: slot.Code, Status: string(slot.Status)})
}

type checkInRequest struct {
	CarPlate    string `json:"car_plate"`
	CarBrand    string `json:"car_brand"`
	CarModel    string `json:"car_model"`
	CarColor    string `json:"car_color"`
	CustomerCPF string `json:"customer_cpf"`
}

type sessionResponse struct {
	CarPlate        string   `json:"car_plate"`
	CarBrand        string   `json:"car_brand"`
	CarModel        string   `json:"car_model"`
	CarColor        string   `json:"car_color"`
	CustomerCPF     string   `json:"customer_cpf"`
	Receipt         string   `json:"receipt"`
	CheckIn         string   `json:"check_in"`
	Checkout        *string  `json:"checkout,omitempty"`
	ParkingSlotCode string   `json:"parking_slot_code"`
	Price           *float64 `json:"price,omitempty"`
	Discount        *float64 `json:"discount,omitempty"`
}

func newSessionResponse(s *model.ParkingSession) sessionResponse {
	resp := sessionResponse{
		CarPlate:        s.Vehicle.Plate,
		CarBrand:        s.Vehicle.Brand,
		CarModel:        s.Vehicle.Model,
		CarColor:        s.Vehicle.Color,
		CustomerCPF:     s.CustomerCPF,
		Receipt:         s.Receipt,
		CheckIn:         s.CheckIn.Format(timeLayout),
		ParkingSlotCode: s.SlotCode,
	}

	if s.Checkout != nil {
		v := s.Checkout.Format(timeLayout)
		resp.Checkout = &v
	}
	if s.Price != nil {
		v := s.Price.InexactFloat64()
		resp.Price = &v
	}
	if s.Discount != nil {
		v := s.Discount.InexactFloat64()
		resp.Discount = &v
	}

	return resp
}

// CheckIn регистрирует заезд клиента на свободное место.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidPlate(req.CarPlate) || req.CarBrand == "" || req.CarModel == "" ||
		req.CarColor == "" || !validation.IsValidCPF(req.CustomerCPF) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	vehicle := model.Vehicle{
		Plate: req.CarPlate,
		Brand: req.CarBrand,
		Model: req.CarModel,
		Color: req.CarColor,
	}

	session, err := h.service.CheckIn(r.Context(), req.CustomerCPF, vehicle)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) || errors.Is(err, repository.ErrNoAvailableSlot) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("check-in error", zap.Error(err), zap.String("cpf", req.CustomerCPF))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+session.Receipt)
	writeJSON(w, http.StatusCreated, newSessionResponse(session))
}

// FindByReceipt возвращает открытую сессию по квитанции.
func (h *Handler) FindByReceipt(w http.ResponseWriter, r *http.Request) {
	receipt := chi.URLParam(r, "receipt")

	session, err := h.service.FindSessionByReceipt(r.Context(), receipt)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("find session error", zap.Error(err), zap.String("receipt", receipt))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// Checkout регистрирует выезд: закрывает сессию и освобождает место.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	receipt := chi.URLParam(r, "receipt")

	session, err := h.service.Checkout(r.Context(), receipt)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("checkout error", zap.Error(err), zap.String("receipt", receipt))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// ListSessionsByCPF возвращает страницу сессий клиента по CPF.
func (h *Handler) ListSessionsByCPF(w http.ResponseWriter, r *http.Request) {
	cpf := chi.URLParam(r, "cpf")
	page, size := parsePagination(r)

	sessions, total, err := h.service.ListSessionsByCPF(r.Context(), cpf, size, (page-1)*size)
	if err != nil {
		h.logger.Error("list sessions by cpf error", zap.Error(err), zap.String("cpf", cpf))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newPageResponse(sessionsContent(sessions), page, size, total))
}

// ListMySessions возвращает страницу сессий клиента текущего пользователя.
func (h *Handler) ListMySessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	page, size := parsePagination(r)

	sessions, total, err := h.service.ListSessionsByUserID(r.Context(), userID, size, (page-1)*size)
	if err != nil {
		h.logger.Error("list own sessions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newPageResponse(sessionsContent(sessions), page, size, total))
}

func sessionsContent(sessions []model.ParkingSession) []sessionResponse {
	content := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		content = append(content, newSessionResponse(&sessions[i]))
	}
	return content
}

type pageResponse struct {
	Content       any   `json:"content"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int64 `json:"total_pages"`
}

func newPageResponse(content any, page, size int, total int64) pageResponse {
	totalPages := total / int64(size)
	if total%int64(size) != 0 {
		totalPages++
	}
	return pageResponse{
		Content:       content,
		Number:        page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
	}
}

func parsePagination(r *http.Request) (page, size int) {
	page = 1
	size = defaultPageSize

	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v > 0 && v <= maxPageSize {
		size = v
	}

	return page, size
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
