package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/riskscore-api/internal/inference"
	"github.com/Brownie44l1/riskscore-api/internal/model"
)

type Handler struct {
	inference    *inference.Handler
	info         model.Info
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewHandler(inf *inference.Handler, info model.Info, maxBodyBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		inference:    inf,
		info:         info,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// ErrorResponse is the body of every 4xx/5xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Expected *int   `json:"expected,omitempty"`
	Got      *int   `json:"got,omitempty"`
	Position *int   `json:"position,omitempty"`
}

type readyResponse struct {
	Status string `json:"status"`
	model.Info
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, inference.HandleHealth())
}

// Ready reports the loaded artifact. The process does not serve without one, so a response
// means the model is usable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready", Info: h.info})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	result, err := h.inference.HandlePredict(body)
	if err != nil {
		status, resp := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("prediction error", zap.Error(err))
		} else {
			h.logger.Debug("rejected prediction request", zap.String("outcome", inference.Outcome(err)), zap.Error(err))
		}
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// errorResponse maps a pipeline error to a status code and a client-safe body.
func errorResponse(err error) (int, ErrorResponse) {
	var (
		malformed *inference.MalformedRequestError
		payload   *inference.InvalidPayloadTypeError
		count     *inference.FeatureCountMismatchError
		value     *inference.InvalidFeatureValueError
	)
	switch {
	case errors.As(err, &malformed):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"}
	case errors.As(err, &payload):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: payload.Error()}
	case errors.As(err, &count):
		return http.StatusBadRequest, ErrorResponse{
			Error:    count.Error(),
			Expected: &count.Expected,
			Got:      &count.Got,
		}
	case errors.As(err, &value):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: value.Error(), Position: &value.Position}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "prediction failed"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
