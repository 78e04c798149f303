package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvthweatt/USB-Monitor/internal/audit"
	"github.com/kvthweatt/USB-Monitor/internal/device"
	"github.com/kvthweatt/USB-Monitor/internal/logger"
	"github.com/kvthweatt/USB-Monitor/internal/policy"
)

type fixture struct {
	server *Server
	engine *policy.Engine
	authz  *device.Authorizer
}

func newFixture(t *testing.T, securityPath string) *fixture {
	t.Helper()

	authz := device.NewAuthorizer(device.Config{Logger: logger.NewTestLogger()})
	engine := policy.NewEngine(policy.Config{Logger: logger.NewTestLogger(), Authorizer: authz})

	cfg := DefaultConfig()
	cfg.SecurityConfigPath = securityPath

	return &fixture{
		server: New(cfg, engine, authz, logger.NewTestLogger()),
		engine: engine,
		authz:  authz,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func keyboard() device.Descriptor {
	return device.Descriptor{
		Identity: device.Identity{VendorID: 0x046D, ProductID: 0xC52B, Bus: 1, Address: 4},
		Class:    device.ClassHID,
		Speed:    device.SpeedFull,
		Interfaces: []device.Interface{{AltSettings: []device.AltSetting{{
			Class:     device.ClassHID,
			Endpoints: []device.Endpoint{{Address: 0x81, TransferType: device.TransferInterrupt, MaxPacketSize: 8}},
		}}}},
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/health", nil).Code)
}

func TestAuthorizeFlow(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/devices/authorize", keyboard())
	require.Equal(t, http.StatusOK, rec.Code)
	denied := decode[policy.Verdict](t, rec)
	assert.False(t, denied.Authorized)
	assert.Equal(t, policy.GateRules, denied.Gate)

	rec = f.do(t, http.MethodPost, "/api/v1/rules", `{"vendorId": "046d", "productId": "c52b", "isWhitelisted": true, "allowedInterfaces": ["0x03"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/devices/authorize", keyboard())
	require.Equal(t, http.StatusOK, rec.Code)
	granted := decode[policy.Verdict](t, rec)
	assert.True(t, granted.Authorized)
	require.NotNil(t, granted.Result)
	assert.Equal(t, device.MethodAutomatic, granted.Result.Method)
	assert.Equal(t, device.ReasonKnownDevice, granted.Result.Reason)

	rec = f.do(t, http.MethodGet, "/api/v1/devices/history?vendor=046d&product=c52b&bus=1&address=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[historyResponse](t, rec)
	assert.True(t, history.Authorized)
	require.Len(t, history.History, 1)
	assert.True(t, history.History[0].Authorized)

	rec = f.do(t, http.MethodPost, "/api/v1/devices/revoke", keyboard().Identity)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.authz.IsAuthorized(keyboard().Identity))
}

func TestAuthorizeRejectsBadBody(t *testing.T) {
	f := newFixture(t, "")
	for _, path := range []string{"/api/v1/devices/authorize", "/api/v1/devices/allowed", "/api/v1/devices/compliance", "/api/v1/devices/revoke"} {
		rec := f.do(t, http.MethodPost, path, `{"identity":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestAllowedAndCompliance(t *testing.T) {
	f := newFixture(t, "")
	f.engine.AddSecurityRule(policy.Rule{VendorID: 0x046D, ProductID: 0xC52B, Whitelisted: true, AllowedInterfaces: []device.Class{device.ClassMassStorage}})

	rec := f.do(t, http.MethodPost, "/api/v1/devices/allowed", keyboard())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[allowedResponse](t, rec).Allowed)

	rec = f.do(t, http.MethodPost, "/api/v1/devices/compliance", keyboard())
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[complianceResponse](t, rec)
	assert.False(t, got.Compliant)
	assert.Equal(t, "046D:C52B@1.4", got.Device)
}

func TestHistoryRequiresIdentity(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/devices/history?vendor=zz&product=1&bus=1&address=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/devices/history?vendor=1&product=1&bus=300&address=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/devices/history?vendor=1&product=1&bus=1&address=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"history":[]`)
}

func TestRulesCRUD(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/rules", `{"vendorId": "1234", "productId": "5678", "isWhitelisted": true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/rules", `{"vendorId": "nothex", "productId": "5678"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/rules", nil)
	rules := decode[[]policy.Rule](t, rec)
	require.Len(t, rules, 1)
	assert.Equal(t, uint16(0x1234), rules[0].VendorID)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/v1/rules/1234/0x5678", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/v1/rules/1234/5678", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/v1/rules/xyz/5678", nil).Code)
}

func TestSecurityLevel(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/security-level", nil)
	assert.Equal(t, levelResponse{Level: "Medium", Value: 1}, decode[levelResponse](t, rec))

	rec = f.do(t, http.MethodPut, "/api/v1/security-level", levelBody{Level: "high"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "High", decode[levelResponse](t, rec).Level)
	assert.True(t, f.authz.Policy().CheckDeviceCertificates)

	rec = f.do(t, http.MethodPut, "/api/v1/security-level", levelBody{Level: "extreme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, policy.LevelHigh, f.engine.SecurityLevel())
}

func TestPolicy(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/policy", nil)
	got := decode[policyBody](t, rec)
	assert.Equal(t, 30, got.AuthorizationTimeout)
	assert.True(t, got.RequireUserConfirmation)

	rec = f.do(t, http.MethodPut, "/api/v1/policy", policyBody{CheckDeviceCertificates: true, AuthorizationTimeout: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, policy.LevelCustom, f.engine.SecurityLevel())
	assert.Equal(t, device.Policy{CheckDeviceCertificates: true, AuthorizationTimeout: 5 * time.Second}, f.authz.Policy())

	rec = f.do(t, http.MethodPut, "/api/v1/policy", policyBody{AuthorizationTimeout: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, "")
	start := time.Now().Add(-time.Minute)

	f.do(t, http.MethodPost, "/api/v1/devices/authorize", keyboard())

	rec := f.do(t, http.MethodGet, "/api/v1/events?start="+start.UTC().Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]audit.Event](t, rec)
	require.NotEmpty(t, events)
	assert.Equal(t, audit.KindUnauthorizedAccess, events[0].Kind)
	assert.Equal(t, "046D:C52B", events[0].DeviceID)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = f.do(t, http.MethodGet, "/api/v1/events?start="+future+"&end="+future, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/events?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/events?start="+future+"&end="+start.UTC().Format(time.RFC3339), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.json")
	f := newFixture(t, path)

	f.engine.AddSecurityRule(policy.Rule{VendorID: 0x1234, ProductID: 0x5678, Whitelisted: true})
	rec := f.do(t, http.MethodPost, "/api/v1/config/save", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.FileExists(t, path)

	f.engine.ClearSecurityRules()
	rec = f.do(t, http.MethodPost, "/api/v1/config/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, f.engine.SecurityRules(), 1)

	other := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(other, []byte(`{"securityLevel": 7, "rules": []}`), 0o600))
	rec = f.do(t, http.MethodPost, "/api/v1/config/reload", configBody{Path: other})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/config/reload", configBody{Path: filepath.Join(t.TempDir(), "missing.json")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigWithoutPath(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/config/save", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/config/reload", `{"path":`).Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
