package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kvthweatt/USB-Monitor/internal/device"
)

// maxBodyBytes caps request bodies; descriptors are small.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Message: message, Status: status})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parseIdentity(q url.Values) (device.Identity, error) {
	vendor, err := device.ParseID(q.Get("vendor"))
	if err != nil {
		return device.Identity{}, fmt.Errorf("vendor: %w", err)
	}
	product, err := device.ParseID(q.Get("product"))
	if err != nil {
		return device.Identity{}, fmt.Errorf("product: %w", err)
	}
	bus, err := strconv.ParseUint(q.Get("bus"), 10, 8)
	if err != nil {
		return device.Identity{}, fmt.Errorf("bus: invalid value %q", q.Get("bus"))
	}
	addr, err := strconv.ParseUint(q.Get("address"), 10, 8)
	if err != nil {
		return device.Identity{}, fmt.Errorf("address: invalid value %q", q.Get("address"))
	}
	return device.Identity{VendorID: vendor, ProductID: product, Bus: uint8(bus), Address: uint8(addr)}, nil
}

// parseTimeRange reads RFC 3339 start and end. A missing start means the
// zero time and a missing end means now.
func parseTimeRange(q url.Values, now time.Time) (start, end time.Time, err error) {
	end = now
	if v := q.Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end before start")
	}
	return start, end, nil
}
