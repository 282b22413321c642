package web

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/rates"
)

const maxJobBody = 1 << 20

type rateResponse struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	Rate      decimal.Decimal  `json:"rate"`
	FeeBps    int              `json:"fee_bps"`
	Provider  string           `json:"provider"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Preview   *decimal.Decimal `json:"preview,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(r)

	body, err := s.Gateway.Balances(r.Context(), userID)
	if err != nil {
		s.logger.Warn("balance proxy failed", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondRaw(w, http.StatusOK, body)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJobBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.Wrap(err, "read request body").Error())
		return
	}
	if !gjson.ValidBytes(payload) {
		respondError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	body, err := s.Gateway.CreateJob(r.Context(), payload)
	if err != nil {
		s.logger.Warn("job proxy failed", zap.Error(err))
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.track(payload, body)
	respondRaw(w, http.StatusOK, body)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	userID := s.userID(r)

	body, err := s.Gateway.Job(r.Context(), jobID, userID)
	if err != nil {
		if clients.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Warn("job lookup proxy failed", zap.String("job_id", jobID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondRaw(w, http.StatusOK, body)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := s.userID(r)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = s.defaultLimit
	}

	body, err := s.Gateway.Jobs(r.Context(), userID, limit)
	if err != nil {
		s.logger.Warn("transactions proxy failed", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondRaw(w, http.StatusOK, body)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pair := domain.NewPair(q.Get("from"), q.Get("to"))
	if !domain.ValidCode(pair.From) || !domain.ValidCode(pair.To) {
		respondError(w, http.StatusBadRequest, "from and to must be 3-letter currency codes")
		return
	}

	var amount *decimal.Decimal
	if raw := q.Get("amount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			respondError(w, http.StatusBadRequest, "amount must be a non-negative number")
			return
		}
		amount = &d
	}

	quote, err := s.Quoter.Quote(r.Context(), pair)
	if err != nil {
		switch {
		case errors.Is(err, rates.ErrUnknownPair):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, rates.ErrQuoteExpired):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	resp := rateResponse{
		From:     pair.From,
		To:       pair.To,
		Rate:     quote.Rate,
		FeeBps:   quote.FeeBps,
		Provider: quote.Provider,
		Amount:   amount,
	}
	if amount != nil {
		preview := rates.Convert(*amount, quote.Rate)
		resp.Preview = &preview
	}
	if !quote.ExpiresAt.IsZero() {
		exp := quote.ExpiresAt
		resp.ExpiresAt = &exp
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) userID(r *http.Request) string {
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return s.defaultUserID
}
