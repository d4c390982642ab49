package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/telecare-labs/callbridge/internal/api/middleware"
	"github.com/telecare-labs/callbridge/internal/call"
	"github.com/telecare-labs/callbridge/internal/metrics"
	"github.com/telecare-labs/callbridge/internal/models"
)

// rtcRequest is the single dispatch envelope both clients POST on every
// polling tick: {action, ...params}.
type rtcRequest struct {
	Action    string                `json:"action"`
	SessionID string                `json:"session_id,omitempty"`
	CallID    string                `json:"call_id,omitempty"`
	Signal    *models.SignalPayload `json:"signal,omitempty"`
}

// callEntry is one incoming call in the get_incoming_calls response.
type callEntry struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserAvatar string `json:"user_avatar"`
}

// signalEnvelope is the nullable signal slot in get_call_status responses.
type signalEnvelope struct {
	From    models.Role          `json:"from"`
	Payload models.SignalPayload `json:"signal"`
	TS      int64                `json:"ts"`
}

// Dispatch is the polling gateway: one POST endpoint, one operation per
// client action, each verifying the caller is a participant before
// touching the session.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFromContext(r.Context())
	if ident == nil {
		h.Fail(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req rtcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	switch req.Action {
	case "initiate_call":
		err = h.initiateCall(w, r, ident)
	case "get_incoming_calls":
		err = h.getIncomingCalls(w, r, ident)
	case "answer_call":
		err = h.answerCall(w, r, ident, req)
	case "reject_call":
		err = h.rejectCall(w, r, ident, req)
	case "send_signal":
		err = h.sendSignal(w, r, ident, req)
	case "get_call_status":
		err = h.getCallStatus(w, r, ident, req)
	case "end_call":
		err = h.endCall(w, r, ident, req)
	case "call_history":
		err = h.callHistory(w, r, ident)
	case "delete_call":
		err = h.deleteCall(w, r, ident, req)
	case "clear_all_history":
		err = h.clearAllHistory(w, r, ident)
	default:
		h.Fail(w, http.StatusBadRequest, "unknown action")
		return
	}

	if err != nil {
		metrics.ActionsTotal.WithLabelValues(req.Action, errorClass(err)).Inc()
		if errorStatus(err) == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("action", req.Action).Msg("action failed")
			h.Fail(w, http.StatusInternalServerError, "internal error")
			return
		}
		// Expected coordination outcomes; the polling client decides
		// whether to re-poll.
		h.Fail(w, errorStatus(err), userMessage(err))
		return
	}
	metrics.ActionsTotal.WithLabelValues(req.Action, "ok").Inc()
}

func (h *Handler) initiateCall(w http.ResponseWriter, r *http.Request, ident *models.Identity) error {
	if ident.Role != models.RolePatient {
		return call.ErrUnauthorized
	}
	sess, err := h.manager.Initiate(r.Context(), ident.UserID)
	if err != nil {
		return err
	}
	h.JSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"session_id": sess.ID.String(),
		"status":     sess.Status,
	})
	return nil
}

func (h *Handler) getIncomingCalls(w http.ResponseWriter, r *http.Request, ident *models.Identity) error {
	if ident.Role != models.RoleDoctor {
		return call.ErrUnauthorized
	}
	incoming, err := h.manager.Incoming(r.Context(), ident.UserID)
	if err != nil {
		return err
	}

	calls := make([]callEntry, len(incoming))
	for i, c := range incoming {
		calls[i] = callEntry{
			SessionID:  c.SessionID.String(),
			UserID:     c.Patient.ID.String(),
			UserName:   c.Patient.Name,
			UserAvatar: c.Patient.AvatarURL,
		}
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true, "calls": calls})
	return nil
}

func (h *Handler) answerCall(w http.ResponseWriter, r *http.Request, ident *models.Identity, req rtcRequest) error {
	sessionID, err := parseSessionID(req.SessionID)
	if err != nil {
		return err
	}
	if ident.Role != models.RoleDoctor {
		return call.ErrUnauthorized
	}
	if err := h.manager.Answer(r.Context(), sessionID, ident.UserID); err != nil {
		return err
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "call answered"})
	return nil
}

func (h *Handler) rejectCall(w http.ResponseWriter, r *http.Request, ident *models.Identity, req rtcRequest) error {
	sessionID, err := parseSessionID(req.SessionID)
	if err != nil {
		return err
	}
	if ident.Role != models.RoleDoctor {
		return call.ErrUnauthorized
	}
	if err := h.manager.Reject(r.Context(), sessionID, ident.UserID); err != nil {
		return err
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "call rejected"})
	return nil
}

func (h *Handler) sendSignal(w http.ResponseWriter, r *http.Request, ident *models.Identity, req rtcRequest) error {
	sessionID, err := parseSessionID(req.SessionID)
	if err != nil {
		return err
	}
	if req.Signal == nil {
		return call.ErrValidation
	}
	if err := h.manager.SendSignal(r.Context(), sessionID, *ident, *req.Signal); err != nil {
		return err
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true})
	return nil
}

func (h *Handler) getCallStatus(w http.ResponseWriter, r *http.Request, ident *models.Identity, req rtcRequest) error {
	sessionID, err := parseSessionID(req.SessionID)
	if err != nil {
		return err
	}
	sess, sig, err := h.manager.Status(r.Context(), sessionID, *ident)
	if err != nil {
		return err
	}

	resp := map[string]any{
		"success": true,
		"status":  sess.Status,
		"signal":  nil,
	}
	if sig != nil {
		resp["signal"] = signalEnvelope{From: sig.From, Payload: sig.Payload, TS: sig.Timestamp}
	}
	h.JSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) endCall(w http.ResponseWriter, r *http.Request, ident *models.Identity, req rtcRequest) error {
	sessionID, err := parseSessionID(req.SessionID)
	if err != nil {
		return err
	}
	if err := h.manager.End(r.Context(), sessionID, *ident); err != nil {
		return err
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true})
	return nil
}

func (h *Handler) callHistory(w http.ResponseWriter, r *http.Request, ident *models.Identity) error {
	entries, err := h.history.List(r.Context(), *ident)
	if err != nil {
		return err
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true, "calls": entries})
	return nil
}

func (h *Handler) deleteCall(w http.ResponseWriter, r *http.Request, ident *models.Identity, req rtcRequest) error {
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return call.ErrValidation
	}
	if err := h.history.Delete(r.Context(), callID, *ident); err != nil {
		return err
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "call deleted"})
	return nil
}

func (h *Handler) clearAllHistory(w http.ResponseWriter, r *http.Request, ident *models.Identity) error {
	cleared, err := h.history.ClearAll(r.Context(), *ident)
	if err != nil {
		return err
	}
	h.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "history cleared", "cleared": cleared})
	return nil
}

func parseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, call.ErrValidation
	}
	return id, nil
}

// userMessage strips the package prefix from taxonomy errors for the wire.
func userMessage(err error) string {
	for _, sentinel := range []error{
		call.ErrNotFound, call.ErrConflict, call.ErrUnauthorized, call.ErrExpired,
		call.ErrSessionNotActive, call.ErrValidation, call.ErrNoDoctorAssigned,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
