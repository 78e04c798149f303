package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kvthweatt/USB-Monitor/internal/device"
	"github.com/kvthweatt/USB-Monitor/internal/logger"
	"github.com/kvthweatt/USB-Monitor/internal/notify"
)

const sampleConfig = `{
  "securityLevel": 2,
  "rules": [
    {
      "vendorId": "1234",
      "productId": "5678",
      "isWhitelisted": true,
      "requireAuthorization": false,
      "securityLevel": 1,
      "allowedInterfaces": ["0x03", "0x08"],
      "expiryDate": "Wed Dec 31 23:59:59 2031\n"
    },
    {
      "vendorId": "abcd",
      "productId": "1",
      "isWhitelisted": false,
      "requireAuthorization": true,
      "securityLevel": 2,
      "allowedInterfaces": []
    }
  ]
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "security.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newPersistEngine(t *testing.T) (*Engine, *device.Authorizer) {
	t.Helper()
	authz := device.NewAuthorizer(device.Config{Logger: logger.NewTestLogger()})
	return NewEngine(Config{Logger: logger.NewTestLogger(), Authorizer: authz}), authz
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, LevelHigh, doc.SecurityLevel)
	require.Len(t, doc.Rules, 2)

	first := doc.Rules[0]
	assert.Equal(t, uint16(0x1234), first.VendorID)
	assert.Equal(t, uint16(0x5678), first.ProductID)
	assert.True(t, first.Whitelisted)
	assert.Equal(t, LevelMedium, first.Level)
	assert.Equal(t, []device.Class{device.ClassHID, device.ClassMassStorage}, first.AllowedInterfaces)
	assert.True(t, first.ExpiresAt.Equal(time.Date(2031, 12, 31, 23, 59, 59, 0, time.Local)))

	second := doc.Rules[1]
	assert.Equal(t, uint16(0xABCD), second.VendorID)
	assert.Equal(t, uint16(0x0001), second.ProductID)
	assert.True(t, second.RequireAuthorization)
	assert.Empty(t, second.AllowedInterfaces)
	assert.True(t, second.ExpiresAt.IsZero())
	assert.Nil(t, doc.Policy)
}

func TestParseDocumentErrors(t *testing.T) {
	tests := map[string]string{
		"malformed json":   `{"securityLevel": 1, "rules": [`,
		"bad vendor":       `{"securityLevel": 1, "rules": [{"vendorId": "xyz", "productId": "1"}]}`,
		"vendor too wide":  `{"securityLevel": 1, "rules": [{"vendorId": "12345", "productId": "1"}]}`,
		"bad interface":    `{"securityLevel": 1, "rules": [{"vendorId": "1", "productId": "1", "allowedInterfaces": ["0xZZ"]}]}`,
		"bad expiry":       `{"securityLevel": 1, "rules": [{"vendorId": "1", "productId": "1", "expiryDate": "someday"}]}`,
		"bad level":        `{"securityLevel": 9, "rules": []}`,
		"bad rule level":   `{"securityLevel": 1, "rules": [{"vendorId": "1", "productId": "1", "securityLevel": -1}]}`,
		"negative timeout": `{"securityLevel": 3, "rules": [], "authorizationPolicy": {"authorizationTimeout": -5}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocument([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseExpiry(t *testing.T) {
	got, err := ParseExpiry("2030-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))

	got, err = ParseExpiry("Thu Jan  2 03:04:05 2030")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.Local)))

	got, err = ParseExpiry("   ")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestLoadSecurityConfig(t *testing.T) {
	engine, authz := newPersistEngine(t)
	engine.AddSecurityRule(Rule{VendorID: 0xFFFF, ProductID: 0xFFFF, Whitelisted: true})

	require.NoError(t, engine.LoadSecurityConfig(writeConfig(t, sampleConfig)))

	rules := engine.SecurityRules()
	require.Len(t, rules, 2, "load replaces the whole rule set")
	assert.Equal(t, uint16(0x1234), rules[0].VendorID)
	assert.Equal(t, LevelHigh, engine.SecurityLevel())
	assert.True(t, authz.Policy().CheckDeviceCertificates)
}

func TestLoadSecurityConfigFailureLeavesStateUntouched(t *testing.T) {
	engine, authz := newPersistEngine(t)
	engine.AddSecurityRule(Rule{VendorID: 0x1111, ProductID: 0x2222, Whitelisted: true})
	before := authz.Policy()

	bad := `{"securityLevel": 2, "rules": [{"vendorId": "1234", "productId": "5678"}, {"vendorId": "nope", "productId": "1"}]}`

	require.Error(t, engine.LoadSecurityConfig(writeConfig(t, bad)))
	require.Error(t, engine.LoadSecurityConfig(filepath.Join(t.TempDir(), "missing.json")))

	rules := engine.SecurityRules()
	require.Len(t, rules, 1)
	assert.Equal(t, uint16(0x1111), rules[0].VendorID)
	assert.Equal(t, LevelMedium, engine.SecurityLevel())
	assert.Equal(t, before, authz.Policy())
}

func TestParseDocumentWithoutLevel(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"rules": [{"vendorId": "1234", "productId": "5678", "isWhitelisted": true}]}`))
	require.NoError(t, err)
	assert.False(t, doc.LevelSet)
	assert.Len(t, doc.Rules, 1)

	doc, err = ParseDocument([]byte(`{"securityLevel": 0}`))
	require.NoError(t, err)
	assert.True(t, doc.LevelSet)
	assert.Equal(t, LevelLow, doc.SecurityLevel)
	assert.Empty(t, doc.Rules)
}

func TestLoadPartialSecurityConfig(t *testing.T) {
	high, _ := Preset(LevelHigh)
	medium, _ := Preset(LevelMedium)

	tests := []struct {
		name      string
		body      string
		wantLevel SecurityLevel
		wantRules int
		wantPol   device.Policy
	}{
		{
			name:      "rules only keeps level",
			body:      `{"rules": [{"vendorId": "1234", "productId": "5678", "isWhitelisted": true}]}`,
			wantLevel: LevelHigh,
			wantRules: 1,
			wantPol:   high,
		},
		{
			name:      "null level keeps level",
			body:      `{"securityLevel": null, "rules": []}`,
			wantLevel: LevelHigh,
			wantPol:   high,
		},
		{
			name:      "empty document clears rules",
			body:      `{}`,
			wantLevel: LevelHigh,
			wantPol:   high,
		},
		{
			name:      "level only clears rules",
			body:      `{"securityLevel": 1}`,
			wantLevel: LevelMedium,
			wantPol:   medium,
		},
		{
			name:      "policy without level is ignored outside Custom",
			body:      `{"rules": [], "authorizationPolicy": {"authorizationTimeout": 5}}`,
			wantLevel: LevelHigh,
			wantPol:   high,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, authz := newPersistEngine(t)
			require.NoError(t, engine.SetSecurityLevel(LevelHigh))
			engine.AddSecurityRule(Rule{VendorID: 0xFFFF, ProductID: 0xFFFF, Whitelisted: true})

			require.NoError(t, engine.LoadSecurityConfig(writeConfig(t, tt.body)))

			assert.Equal(t, tt.wantLevel, engine.SecurityLevel())
			assert.Len(t, engine.SecurityRules(), tt.wantRules)
			assert.Equal(t, tt.wantPol, authz.Policy())
		})
	}
}

func TestLoadPolicyWithoutLevelAtCustom(t *testing.T) {
	engine, authz := newPersistEngine(t)
	require.NoError(t, engine.SetSecurityLevel(LevelCustom))

	body := `{"rules": [], "authorizationPolicy": {"checkDeviceCertificates": true, "authorizationTimeout": 12}}`
	require.NoError(t, engine.LoadSecurityConfig(writeConfig(t, body)))

	assert.Equal(t, LevelCustom, engine.SecurityLevel())
	assert.Equal(t, device.Policy{CheckDeviceCertificates: true, AuthorizationTimeout: 12 * time.Second}, authz.Policy())
}

func TestLoadCustomPolicy(t *testing.T) {
	engine, authz := newPersistEngine(t)

	body := `{
  "securityLevel": 3,
  "rules": [],
  "authorizationPolicy": {
    "autoAuthorizeKnownDevices": false,
    "requireUserConfirmation": true,
    "checkDeviceCertificates": true,
    "enforceSystemPolicies": false,
    "authorizationTimeout": 45
  }
}`
	require.NoError(t, engine.LoadSecurityConfig(writeConfig(t, body)))

	assert.Equal(t, LevelCustom, engine.SecurityLevel())
	assert.Equal(t, device.Policy{
		RequireUserConfirmation: true,
		CheckDeviceCertificates: true,
		AuthorizationTimeout:    45 * time.Second,
	}, authz.Policy())
}

func TestAuthorizationPolicyIgnoredOutsideCustom(t *testing.T) {
	ctrl := gomock.NewController(t)
	authz := NewMockAuthorizer(ctrl)
	p, _ := Preset(LevelLow)
	authz.EXPECT().SetPolicy(p).Times(1)

	engine := NewEngine(Config{Logger: logger.NewTestLogger(), Authorizer: authz})

	body := `{"securityLevel": 0, "rules": [], "authorizationPolicy": {"checkDeviceCertificates": true, "authorizationTimeout": 5}}`
	require.NoError(t, engine.LoadSecurityConfig(writeConfig(t, body)))
	assert.Equal(t, LevelLow, engine.SecurityLevel())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	engine, _ := newPersistEngine(t)

	expiry := time.Date(2030, 7, 14, 8, 30, 0, 0, time.Local)
	engine.AddSecurityRule(Rule{
		VendorID:          0x1234,
		ProductID:         0x5678,
		Whitelisted:       true,
		Level:             LevelHigh,
		AllowedInterfaces: []device.Class{device.ClassHID},
		ExpiresAt:         expiry,
	})
	engine.AddSecurityRule(Rule{VendorID: 0x0A0B, ProductID: 0x0001})
	require.NoError(t, engine.SetSecurityLevel(LevelLow))

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, engine.SaveSecurityConfig(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"vendorId": "1234"`)
	assert.Contains(t, string(raw), `"vendorId": "a0b"`)
	assert.Contains(t, string(raw), `"0x03"`)
	assert.Contains(t, string(raw), expiry.Format(ExpiryLayout))
	assert.NotContains(t, string(raw), "authorizationPolicy")

	restored, _ := newPersistEngine(t)
	require.NoError(t, restored.LoadSecurityConfig(path))

	assert.Equal(t, LevelLow, restored.SecurityLevel())
	rules := restored.SecurityRules()
	require.Len(t, rules, 2)
	assert.Equal(t, []device.Class{device.ClassHID}, rules[0].AllowedInterfaces)
	assert.Equal(t, LevelHigh, rules[0].Level)
	assert.True(t, rules[0].ExpiresAt.Equal(expiry))
	assert.True(t, rules[1].ExpiresAt.IsZero())
}

func TestSaveCustomIncludesPolicy(t *testing.T) {
	engine, authz := newPersistEngine(t)
	authz.SetPolicy(device.Policy{EnforceSystemPolicies: true, AuthorizationTimeout: 20 * time.Second})
	require.NoError(t, engine.SetSecurityLevel(LevelCustom))

	path := filepath.Join(t.TempDir(), "custom.json")
	require.NoError(t, engine.SaveSecurityConfig(path))

	restored, restoredAuthz := newPersistEngine(t)
	require.NoError(t, restored.LoadSecurityConfig(path))
	assert.Equal(t, authz.Policy(), restoredAuthz.Policy())
}

func TestSetCustomSecurityPolicy(t *testing.T) {
	engine, _ := newPersistEngine(t)
	pub := &recordingPublisher{}
	engine.notifier = pub

	body := `{"securityLevel": 1, "rules": [{"vendorId": "1", "productId": "2", "isWhitelisted": true}]}`
	require.NoError(t, engine.SetCustomSecurityPolicy(writeConfig(t, body)))

	assert.Equal(t, LevelCustom, engine.SecurityLevel())
	assert.Len(t, engine.SecurityRules(), 1)
	assert.NotEmpty(t, pub.ofKind(notify.KindConfigurationChanged))

	assert.Error(t, engine.SetCustomSecurityPolicy(filepath.Join(t.TempDir(), "absent.json")))
}

func TestParseSecurityLevel(t *testing.T) {
	for in, want := range map[string]SecurityLevel{"low": LevelLow, "Medium": LevelMedium, "2": LevelHigh, "CUSTOM": LevelCustom} {
		got, err := ParseSecurityLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSecurityLevel("paranoid")
	assert.ErrorIs(t, err, ErrInvalidSecurityLevel)
	_, err = ParseSecurityLevel("4")
	assert.ErrorIs(t, err, ErrInvalidSecurityLevel)
}
