package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"orderbot/internal/dispatch"
	"orderbot/internal/order"
	logx "orderbot/pkg/logx"
)

// eventRequest is the pipeline's job body for POST /api/v1/events.
type eventRequest struct {
	Kind     order.Kind     `json:"kind"`
	OrderID  int64          `json:"order_id"`
	Snapshot order.Snapshot `json:"snapshot"`
	ImageRef string         `json:"image_ref"`
}

// testOrderRequest is the body of POST /api/v1/test-order. Price accepts a
// number or a decimal string.
type testOrderRequest struct {
	BouquetName  string          `json:"bouquet_name"`
	Price        json.RawMessage `json:"price"`
	DeliveryDate string          `json:"delivery_date"`
	ImagePath    string          `json:"image_path"`
}

type submitResponse struct {
	Admission dispatch.Admission `json:"admission"`
	JobID     string             `json:"job_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if st := s.disp.Stats(); !st.Running {
		writeError(w, http.StatusServiceUnavailable, "dispatcher not running")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.disp.Stats())
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	j := order.Job{
		Kind:     req.Kind,
		OrderID:  req.OrderID,
		Snapshot: req.Snapshot,
		ImageRef: strings.TrimSpace(req.ImageRef),
	}.Clone()
	if err := j.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, j)
}

func (s *Server) handleTestOrder(w http.ResponseWriter, r *http.Request) {
	var req testOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.BouquetName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "bouquet_name is required")
		return
	}
	minor, err := order.ParseAmount(strings.Trim(string(req.Price), `"`))
	if err != nil || minor < 0 {
		writeError(w, http.StatusBadRequest, "price must be a non-negative decimal")
		return
	}
	j := order.NewTestOrder(name, order.Money{Minor: minor, Currency: s.currency}, strings.TrimSpace(req.DeliveryDate), req.ImagePath)
	s.submit(w, j)
}

// submit answers 202 for every well-formed job; the admission tells the
// caller what the queue did with it.
func (s *Server) submit(w http.ResponseWriter, j order.Job) {
	a := s.disp.Submit(j)
	s.log.Debug("job submitted over http",
		logx.String("job_id", j.ID),
		logx.String("kind", string(j.Kind)),
		logx.Int64("order_id", j.OrderID),
		logx.String("admission", a.String()),
	)
	if a == dispatch.Invalid {
		writeError(w, http.StatusBadRequest, "invalid job")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Admission: a, JobID: j.ID})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("body exceeds %d bytes", mbe.Limit)
		}
		return fmt.Errorf("malformed json: %w", err)
	}
	if dec.More() {
		return errors.New("malformed json: trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
