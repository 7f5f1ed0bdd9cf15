package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"coffeeshop/internal/service"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Запрещаем второй JSON-объект в body
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}

	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// writeServiceError маппит ошибки ядра в HTTP-коды.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var conflict *service.ConflictError
	switch {
	case errors.As(err, &conflict):
		w.Header().Set("Allow", conflict.AllowHeader())
		writeError(w, http.StatusMethodNotAllowed, conflict.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case service.IsNotFound(err):
		writeError(w, http.StatusNotFound, notFoundText(err))
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func notFoundText(err error) string {
	switch {
	case errors.Is(err, service.ErrChannelNotFound):
		return "channel not found"
	case errors.Is(err, service.ErrSubscriberNotFound):
		return "subscriber not found"
	case errors.Is(err, service.ErrMessageNotFound):
		return "message not found"
	default:
		return "not found"
	}
}

// parseID: нечисловой или неположительный id -> ok=false, отвечаем 404.
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func createdAgo(t time.Time) string {
	return humanize.Time(t)
}
