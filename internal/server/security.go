package server

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kvthweatt/USB-Monitor/internal/audit"
	"github.com/kvthweatt/USB-Monitor/internal/device"
	"github.com/kvthweatt/USB-Monitor/internal/policy"
)

type levelBody struct {
	Level string `json:"level"`
}

type levelResponse struct {
	Level string `json:"level"`
	Value int    `json:"value"`
}

// policyBody carries the timeout in whole seconds, as the security config does.
type policyBody struct {
	AutoAuthorizeKnownDevices bool `json:"autoAuthorizeKnownDevices"`
	RequireUserConfirmation   bool `json:"requireUserConfirmation"`
	CheckDeviceCertificates   bool `json:"checkDeviceCertificates"`
	EnforceSystemPolicies     bool `json:"enforceSystemPolicies"`
	AuthorizationTimeout      int  `json:"authorizationTimeout"`
}

type configBody struct {
	Path string `json:"path"`
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.engine.SecurityRules()
	if rules == nil {
		rules = []policy.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule policy.Rule
	if err := decodeBody(r, &rule); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.engine.AddSecurityRule(rule)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	vendor, err := device.ParseID(vars["vendor"])
	if err != nil {
		writeError(w, "vendor: "+err.Error(), http.StatusBadRequest)
		return
	}
	product, err := device.ParseID(vars["product"])
	if err != nil {
		writeError(w, "product: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !s.engine.RemoveSecurityRule(vendor, product) {
		writeError(w, "no rule for "+device.ModelKey(vendor, product), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSecurityLevel(w http.ResponseWriter, _ *http.Request) {
	level := s.engine.SecurityLevel()
	writeJSON(w, http.StatusOK, levelResponse{Level: level.String(), Value: int(level)})
}

func (s *Server) handleSetSecurityLevel(w http.ResponseWriter, r *http.Request) {
	var body levelBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	level, err := policy.ParseSecurityLevel(body.Level)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.SetSecurityLevel(level); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.handleGetSecurityLevel(w, r)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, _ *http.Request) {
	p := s.authorizer.Policy()
	writeJSON(w, http.StatusOK, policyBody{
		AutoAuthorizeKnownDevices: p.AutoAuthorizeKnownDevices,
		RequireUserConfirmation:   p.RequireUserConfirmation,
		CheckDeviceCertificates:   p.CheckDeviceCertificates,
		EnforceSystemPolicies:     p.EnforceSystemPolicies,
		AuthorizationTimeout:      int(p.AuthorizationTimeout / time.Second),
	})
}

// handleSetPolicy installs an explicit policy, which moves the engine to
// the Custom level first so no preset overwrites it.
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var body policyBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.AuthorizationTimeout < 0 {
		writeError(w, "authorizationTimeout must be >= 0", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetSecurityLevel(policy.LevelCustom); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.authorizer.SetPolicy(device.Policy{
		AutoAuthorizeKnownDevices: body.AutoAuthorizeKnownDevices,
		RequireUserConfirmation:   body.RequireUserConfirmation,
		CheckDeviceCertificates:   body.CheckDeviceCertificates,
		EnforceSystemPolicies:     body.EnforceSystemPolicies,
		AuthorizationTimeout:      time.Duration(body.AuthorizationTimeout) * time.Second,
	})

	s.handleGetPolicy(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r.URL.Query(), time.Now())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	events := s.engine.SecurityEvents(start, end)
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	path, ok := s.configPath(w, r)
	if !ok {
		return
	}

	if err := s.engine.LoadSecurityConfig(path); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("security config reload failed")
		switch {
		case errors.Is(err, fs.ErrNotExist):
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, policy.ErrInvalidConfig):
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "path": path})
}

func (s *Server) handleConfigSave(w http.ResponseWriter, r *http.Request) {
	path, ok := s.configPath(w, r)
	if !ok {
		return
	}

	if err := s.engine.SaveSecurityConfig(path); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("security config save failed")
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": path})
}

// configPath reads an optional {"path": ...} body, falling back to the
// configured security config path.
func (s *Server) configPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body configBody
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}

	path := body.Path
	if path == "" {
		path = s.securityPath
	}
	if path == "" {
		writeError(w, "no security config path configured", http.StatusBadRequest)
		return "", false
	}
	return path, true
}
