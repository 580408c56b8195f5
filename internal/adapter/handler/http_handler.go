package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/citydeal/seckill/internal/core/service"
)

type HTTPHandler struct {
	seckill  *service.SeckillService
	vouchers *service.VoucherService
}

type SeckillRequest struct {
	VoucherID uint64 `json:"voucher_id"`
	UserID    uint64 `json:"user_id"`
}

type SeckillResponse struct {
	Success bool   `json:"success"`
	OrderID uint64 `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func NewHTTPHandler(seckill *service.SeckillService, vouchers *service.VoucherService) *HTTPHandler {
	return &HTTPHandler{seckill: seckill, vouchers: vouchers}
}

func (h *HTTPHandler) Seckill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SeckillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SeckillResponse{Message: "invalid request body"})
		return
	}

	orderID, err := h.seckill.RequestAdmission(r.Context(), req.VoucherID, req.UserID)
	if err != nil {
		status, message := http.StatusInternalServerError, "internal error"
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			status, message = http.StatusBadRequest, "missing required fields"
		case errors.Is(err, service.ErrVoucherNotFound):
			status, message = http.StatusNotFound, "voucher not found"
		case errors.Is(err, service.ErrSaleNotStarted):
			status, message = http.StatusForbidden, "sale not started"
		case errors.Is(err, service.ErrSaleEnded):
			status, message = http.StatusForbidden, "sale ended"
		case errors.Is(err, service.ErrSoldOut):
			status, message = http.StatusGone, "sold out"
		case errors.Is(err, service.ErrAlreadyPurchased):
			status, message = http.StatusConflict, "already purchased"
		}
		writeJSON(w, status, SeckillResponse{Message: message})
		return
	}

	writeJSON(w, http.StatusOK, SeckillResponse{Success: true, OrderID: orderID})
}

func (h *HTTPHandler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, SeckillResponse{Message: "invalid voucher id"})
		return
	}

	voucher, err := h.vouchers.GetVoucher(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, SeckillResponse{Message: "internal error"})
		return
	}
	if voucher == nil {
		writeJSON(w, http.StatusNotFound, SeckillResponse{Message: "voucher not found"})
		return
	}

	writeJSON(w, http.StatusOK, voucher)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
