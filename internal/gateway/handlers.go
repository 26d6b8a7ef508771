package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"

	"github.com/whatsapplogin/wal/internal/channel"
	"github.com/whatsapplogin/wal/internal/httputil"
	"github.com/whatsapplogin/wal/internal/provider"
)

// maxExpiresIn caps a requested code lifetime at one day. Keep it in step
// with the max tag on sendRequest.ExpiresIn.
const maxExpiresIn = 86400

type sendRequest struct {
	Phone      string `json:"phone" validate:"required"`
	CodeLength int    `json:"codeLength" validate:"omitempty,min=1,max=10"`
	ExpiresIn  int    `json:"expiresIn" validate:"omitempty,gt=0,max=86400"`
}

type sendResponse struct {
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type checkRequest struct {
	Phone string `json:"phone" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

type checkResponse struct {
	Verified bool   `json:"verified"`
	Token    string `json:"token,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req sendRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	length := req.CodeLength
	if length == 0 {
		length = s.cfg.DefaultCodeLength
	}
	ttl := s.cfg.DefaultCodeExpiry
	if req.ExpiresIn > 0 {
		ttl = time.Duration(req.ExpiresIn) * time.Second
	}

	code := provider.GenerateCode(length)
	text := provider.FormatMessage(s.template(), code)
	log := s.logger.With("session", sessionID, "phone_region", phoneRegion(req.Phone))

	receipt, err := s.sender.SendText(r.Context(), req.Phone, text)
	if err != nil {
		log.Error("code dispatch failed", "error", err)
		msg := provider.MsgSendFailed
		var sendErr *channel.SendError
		if errors.As(err, &sendErr) && sendErr.Reason != "" {
			msg = sendErr.Reason
		}
		httputil.WriteError(w, http.StatusBadGateway, msg)
		return
	}

	expiresAt := provider.CalculateExpiry(s.now(), ttl)
	s.store.Put(sessionID, req.Phone, code, expiresAt)
	log.Info("code dispatched", "message_id", receipt.MessageID, "status", receipt.Status, "expires_at", expiresAt)

	resp := sendResponse{ExpiresAt: expiresAt.UTC()}
	if s.cfg.ExposeCode {
		resp.Code = code
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req checkRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	now := s.now()
	if !s.store.Consume(sessionID, req.Phone, req.Code, now) {
		s.logger.Info("code rejected", "session", sessionID, "phone_region", phoneRegion(req.Phone))
		httputil.WriteError(w, http.StatusBadRequest, provider.MsgInvalidCode)
		return
	}

	resp := checkResponse{Verified: true}
	if s.tokens != nil {
		token, err := s.tokens.Issue(req.Phone, sessionID, now)
		if err != nil {
			s.logger.Error("token issue failed", "session", sessionID, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp.Token = token
	}
	s.logger.Info("code verified", "session", sessionID, "phone_region", phoneRegion(req.Phone))
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) template() string {
	if s.cfg.MessageTemplate == "" {
		return provider.DefaultMessageTemplate
	}
	return s.cfg.MessageTemplate
}

// validationMessage turns the first failed field into "<field> is invalid".
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		if fe.Tag() == "required" {
			return field + " is required"
		}
		return field + " is invalid"
	}
	return "invalid request"
}

// phoneRegion returns the ISO region of phone for logging, or "unknown".
// Numbers without a leading '+' are read as international.
func phoneRegion(phone string) string {
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	num, err := phonenumbers.Parse(phone, "")
	if err != nil {
		return "unknown"
	}
	if region := phonenumbers.GetRegionCodeForNumber(num); region != "" {
		return region
	}
	return "unknown"
}
