package server

import (
	"net/http"

	"github.com/kvthweatt/USB-Monitor/internal/device"
)

type allowedResponse struct {
	Device  string `json:"device"`
	Allowed bool   `json:"allowed"`
}

type complianceResponse struct {
	Device    string `json:"device"`
	Compliant bool   `json:"compliant"`
}

type historyResponse struct {
	Device     string          `json:"device"`
	Authorized bool            `json:"authorized"`
	History    []device.Result `json:"history"`
}

// handleAuthorize runs the full pipeline for a presented device. It may
// block for the confirmation timeout; a client disconnect cancels the prompt.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var d device.Descriptor
	if err := decodeBody(r, &d); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	verdict := s.engine.Evaluate(r.Context(), d)
	s.log.Info().
		Str("device", d.Identity.String()).
		Bool("authorized", verdict.Authorized).
		Str("gate", string(verdict.Gate)).
		Msg("authorization requested")

	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleAllowed(w http.ResponseWriter, r *http.Request) {
	var d device.Descriptor
	if err := decodeBody(r, &d); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, allowedResponse{
		Device:  d.Identity.String(),
		Allowed: s.engine.IsDeviceAllowed(r.Context(), d),
	})
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	var d device.Descriptor
	if err := decodeBody(r, &d); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, complianceResponse{
		Device:    d.Identity.String(),
		Compliant: s.engine.CheckDeviceCompliance(r.Context(), d),
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var id device.Identity
	if err := decodeBody(r, &id); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.engine.RevokeAuthorization(r.Context(), id)
	s.log.Info().Str("device", id.String()).Msg("authorization revoked")

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "device": id.String()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentity(r.URL.Query())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	history := s.authorizer.History(id)
	if history == nil {
		history = []device.Result{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Device:     id.String(),
		Authorized: s.authorizer.IsAuthorized(id),
		History:    history,
	})
}
