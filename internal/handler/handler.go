package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iurnickita/creditmart/internal/auth"
	"github.com/iurnickita/creditmart/internal/gzip"
	"github.com/iurnickita/creditmart/internal/handler/config"
	"github.com/iurnickita/creditmart/internal/logger"
	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/service"
)

func Serve(cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	zaplog.Info("server started", zap.String("addr", cfg.ServerAddr))
	return srv.ListenAndServe()
}

type handler struct {
	auth     auth.Auth
	service  service.Service
	zaplog   *zap.Logger
	validate *validator.Validate
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:     auth,
		service:  service,
		zaplog:   zaplog,
		validate: validator.New(),
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/register", h.public(h.auth.Register))
	mux.HandleFunc("POST /api/user/login", h.public(h.auth.Login))

	mux.HandleFunc("GET /api/listings", h.public(h.GetListings))
	mux.HandleFunc("GET /api/listings/{id}", h.public(h.GetListing))
	mux.HandleFunc("POST /api/listings", h.private(h.PostListing))
	mux.HandleFunc("POST /api/listings/{id}/purchase", h.private(h.PostPurchase))
	mux.HandleFunc("POST /api/listings/{id}/delist", h.private(h.PostDelist))

	mux.HandleFunc("GET /api/user/balance", h.private(h.GetBalance))
	mux.HandleFunc("POST /api/user/balance/deposit", h.private(h.PostDeposit))
	mux.HandleFunc("POST /api/user/balance/withdraw", h.private(h.PostWithdraw))
	mux.HandleFunc("GET /api/user/balance/history", h.private(h.GetHistory))
	mux.HandleFunc("GET /api/user/withdrawals", h.private(h.GetWithdrawals))

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (h *handler) public(fn http.HandlerFunc) http.HandlerFunc {
	return gzip.GzipMiddleware(logger.RequestLogMdlw(fn, h.zaplog))
}

func (h *handler) private(fn http.HandlerFunc) http.HandlerFunc {
	return gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(fn), h.zaplog))
}

// Лоты

type ListingJSON struct {
	ID           int64     `json:"id"`
	Owner        string    `json:"owner"`
	CreditType   string    `json:"credit_type"`
	Amount       int64     `json:"amount"`
	PricePerUnit int64     `json:"price_per_unit"`
	IsListed     bool      `json:"is_listed"`
	CreatedAt    time.Time `json:"created_at"`
}

func listingJSON(listing model.Listing) ListingJSON {
	return ListingJSON{
		ID:           listing.ID,
		Owner:        listing.Data.Owner,
		CreditType:   listing.Data.CreditType,
		Amount:       listing.Data.Amount,
		PricePerUnit: listing.Data.PricePerUnit,
		IsListed:     listing.Data.IsListed,
		CreatedAt:    listing.Data.CreatedAt,
	}
}

type PostListingJSONRequest struct {
	CreditType   string `json:"credit_type" validate:"max=256"`
	Amount       int64  `json:"amount"`
	PricePerUnit int64  `json:"price_per_unit"`
}

type PostListingJSONResponse struct {
	ID int64 `json:"id"`
}

func (h *handler) PostListing(w http.ResponseWriter, r *http.Request) {
	var request PostListingJSONRequest
	if err := h.readJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode := auth.UserCode(r.Context())

	id, err := h.service.List(r.Context(), userCode, request.CreditType, request.Amount, request.PricePerUnit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, PostListingJSONResponse{ID: id})
}

func (h *handler) GetListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.service.GetListings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(listings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	listingsJSON := make([]ListingJSON, 0, len(listings))
	for _, listing := range listings {
		listingsJSON = append(listingsJSON, listingJSON(listing))
	}
	h.writeJSON(w, http.StatusOK, listingsJSON)
}

func (h *handler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	listing, err := h.service.GetDetails(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listingJSON(listing))
}

type PostPurchaseJSONRequest struct {
	Amount  int64 `json:"amount"`
	Payment int64 `json:"payment"`
}

type PostPurchaseJSONResponse struct {
	ListingID  int64  `json:"listing_id"`
	Amount     int64  `json:"amount"`
	TotalPrice int64  `json:"total_price"`
	Refund     int64  `json:"refund"`
	Reference  string `json:"reference"`
}

func (h *handler) PostPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var request PostPurchaseJSONRequest
	if err = h.readJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode := auth.UserCode(r.Context())

	purchase, err := h.service.Purchase(r.Context(), userCode, id, request.Amount, request.Payment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PostPurchaseJSONResponse{
		ListingID:  purchase.ListingID,
		Amount:     purchase.Amount,
		TotalPrice: purchase.TotalPrice,
		Refund:     purchase.Refund,
		Reference:  purchase.Reference,
	})
}

func (h *handler) PostDelist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode := auth.UserCode(r.Context())

	if err = h.service.Delist(r.Context(), userCode, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Баланс

type GetBalanceJSONResponse struct {
	Current   int64 `json:"current"`
	Withdrawn int64 `json:"withdrawn"`
}

func (h *handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userCode := auth.UserCode(r.Context())

	balance, err := h.service.GetBalance(r.Context(), userCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, GetBalanceJSONResponse{
		Current:   balance.Data.Balance,
		Withdrawn: balance.Data.Withdrawn,
	})
}

type PostDepositJSONRequest struct {
	Sum int64 `json:"sum" validate:"gt=0"`
}

func (h *handler) PostDeposit(w http.ResponseWriter, r *http.Request) {
	var request PostDepositJSONRequest
	if err := h.readJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode := auth.UserCode(r.Context())

	if err := h.service.PostDeposit(r.Context(), userCode, request.Sum); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type PostWithdrawJSONRequest struct {
	Order string `json:"order" validate:"required,numeric"`
	Sum   int64  `json:"sum" validate:"gt=0"`
}

func (h *handler) PostWithdraw(w http.ResponseWriter, r *http.Request) {
	var request PostWithdrawJSONRequest
	if err := h.readJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode := auth.UserCode(r.Context())

	if err := h.service.PostWithdraw(r.Context(), userCode, request.Order, request.Sum); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type BalanceOperationJSONResponse struct {
	Operation   int64     `json:"operation"`
	Kind        string    `json:"kind"`
	Sum         int64     `json:"sum"`
	Balance     int64     `json:"balance"`
	Reference   string    `json:"reference"`
	ProcessedAt time.Time `json:"processed_at"`
}

func (h *handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userCode := auth.UserCode(r.Context())

	history, err := h.service.GetHistory(r.Context(), userCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeBalanceRows(w, history)
}

func (h *handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userCode := auth.UserCode(r.Context())

	withdrawals, err := h.service.GetWithdrawals(r.Context(), userCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeBalanceRows(w, withdrawals)
}

func (h *handler) writeBalanceRows(w http.ResponseWriter, rows []model.Balance) {
	if len(rows) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rowsJSON := make([]BalanceOperationJSONResponse, 0, len(rows))
	for _, row := range rows {
		rowsJSON = append(rowsJSON, BalanceOperationJSONResponse{
			Operation:   row.Key.Operation,
			Kind:        row.Data.Kind,
			Sum:         row.Data.Difference,
			Balance:     row.Data.Balance,
			Reference:   row.Data.Reference,
			ProcessedAt: row.Data.Timestamp,
		})
	}
	h.writeJSON(w, http.StatusOK, rowsJSON)
}

// Вспомогательные

func (h *handler) readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		h.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(responseJSON)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientData),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidPrice):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrNotListed),
		errors.Is(err, service.ErrAlreadyDelisted),
		errors.Is(err, service.ErrInsufficientSupply),
		errors.Is(err, service.ErrSelfTrade),
		errors.Is(err, service.ErrConcurrentUpdate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrUnprocessableEntity):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrPaymentTransferFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.internalError(w, err)
	}
}

// internalError пишет подробности в лог, клиент получает только статус
func (h *handler) internalError(w http.ResponseWriter, err error) {
	h.zaplog.Error("request failed", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
