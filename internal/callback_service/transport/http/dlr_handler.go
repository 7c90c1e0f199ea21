package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/platform/messagebroker"
)

// DeliveryReportCallback is the gateway-facing DLR payload. Africa's Talking
// posts it form-encoded; other gateways send JSON with the same field names.
type DeliveryReportCallback struct {
	ID            string `json:"id" validate:"required"`
	Status        string `json:"status" validate:"required"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	NetworkCode   string `json:"networkCode,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
	RetryCount    string `json:"retryCount,omitempty"`
}

// DLRHandler accepts delivery report callbacks from SMS gateways and queues
// them for the worker. Gateways expect a fast 2xx; all resolution against
// stored outcomes happens asynchronously.
type DLRHandler struct {
	publisher messagebroker.Publisher
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewDLRHandler(publisher messagebroker.Publisher, logger *slog.Logger, validate *validator.Validate) *DLRHandler {
	return &DLRHandler{
		publisher: publisher,
		logger:    logger.With("handler", "dlr"),
		validate:  validate,
	}
}

// HandleDLRCallback handles POST /callbacks/dlr/{provider_name}.
func (h *DLRHandler) HandleDLRCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	providerName := chi.URLParam(r, "provider_name")
	if providerName == "" {
		logger.WarnContext(ctx, "Provider name missing in DLR callback URL")
		http.Error(w, "Provider name is required", http.StatusBadRequest)
		return
	}
	logger = logger.With("provider_name", providerName)

	req, err := decodeCallback(r)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to decode DLR request", "error", err)
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.StructCtx(ctx, req); err != nil {
		logger.ErrorContext(ctx, "Failed to validate DLR request", "error", err)
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	report := domain.DeliveryReport{
		GatewayMessageID: req.ID,
		Status:           req.Status,
		Extras:           map[string]string{},
	}
	if req.FailureReason != "" {
		report.Extras["failure_reason"] = req.FailureReason
		if code, ok := domain.FailureCodeForReason(req.FailureReason); ok {
			report.FailureCode = code
		}
	}
	if req.PhoneNumber != "" {
		report.Extras[domain.OutcomeExtrasNumber] = req.PhoneNumber
	}
	if req.NetworkCode != "" {
		report.Extras["network_code"] = req.NetworkCode
	}
	if req.RetryCount != "" {
		report.Extras["retry_count"] = req.RetryCount
	}

	subject := fmt.Sprintf("delivery.reports.raw.%s", providerName)
	data, err := json.Marshal(report)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to marshal delivery report for queue", "error", err)
		http.Error(w, "Internal server error preparing data for queue", http.StatusInternalServerError)
		return
	}

	if err := h.publisher.Publish(ctx, subject, data); err != nil {
		logger.ErrorContext(ctx, "Failed to publish delivery report", "error", err, "subject", subject)
		http.Error(w, "Failed to queue delivery report for processing", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Delivery report queued",
		"subject", subject, "gateway_message_id", report.GatewayMessageID, "status", report.Status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "delivery report received"})
}

func decodeCallback(r *http.Request) (DeliveryReportCallback, error) {
	var req DeliveryReportCallback

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.ID = r.PostFormValue("id")
		req.Status = r.PostFormValue("status")
		req.PhoneNumber = r.PostFormValue("phoneNumber")
		req.NetworkCode = r.PostFormValue("networkCode")
		req.FailureReason = r.PostFormValue("failureReason")
		req.RetryCount = r.PostFormValue("retryCount")
		return req, nil
	}

	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}
