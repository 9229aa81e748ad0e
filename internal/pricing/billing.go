package pricing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Mode is the billing regime applied to a token tuple.
type Mode string

const (
	// ModeAPI bills every token type at its own rate.
	ModeAPI Mode = "api"
	// ModeMax is subscription billing: cache reads and creation are included.
	ModeMax Mode = "max"
	// ModeFree covers non-billable local models.
	ModeFree Mode = "free"
)

func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAPI:
		return ModeAPI, true
	case ModeMax:
		return ModeMax, true
	case ModeFree:
		return ModeFree, true
	}
	return "", false
}

// Resolver picks the billing mode for an agent: an explicit per-agent
// override wins, otherwise the mode is detected from the local account file.
type Resolver struct {
	// Overrides maps agent type to a pinned mode.
	Overrides map[string]Mode
	// AccountPath points at the agent CLI account file; empty means the
	// default location under the home directory.
	AccountPath string

	detected *Mode
}

func NewResolver() *Resolver {
	return &Resolver{Overrides: make(map[string]Mode)}
}

// Resolve returns the billing mode for one agent and model. Local models are
// always free regardless of configuration.
func (r *Resolver) Resolve(agentType, model string) Mode {
	if isLocalModel(model) {
		return ModeFree
	}
	if mode, ok := r.Overrides[agentType]; ok {
		return mode
	}
	return r.detectedMode()
}

func (r *Resolver) detectedMode() Mode {
	if r.detected != nil {
		return *r.detected
	}
	mode := DetectMode(r.accountPath())
	r.detected = &mode
	return mode
}

func (r *Resolver) accountPath() string {
	if r.AccountPath != "" {
		return r.AccountPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude.json")
}

type accountFile struct {
	HasAvailableSubscription bool `json:"hasAvailableSubscription"`
	OAuthAccount             *struct {
		BillingType string `json:"billingType"`
	} `json:"oauthAccount"`
}

// DetectMode reads the agent CLI account file and maps an active subscription
// to max billing. A missing or unparseable file means API billing: that is
// the conservative regime (it never under-reports cost).
func DetectMode(path string) Mode {
	if path == "" {
		return ModeAPI
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ModeAPI
	}

	var acct accountFile
	if err := json.Unmarshal(data, &acct); err != nil {
		return ModeAPI
	}

	if acct.OAuthAccount != nil {
		billing := strings.ToLower(acct.OAuthAccount.BillingType)
		if strings.Contains(billing, "subscription") || strings.Contains(billing, "max") {
			return ModeMax
		}
	}
	if acct.HasAvailableSubscription {
		return ModeMax
	}
	return ModeAPI
}

func isLocalModel(model string) bool {
	model = strings.ToLower(model)
	return strings.HasPrefix(model, "ollama/") ||
		strings.HasPrefix(model, "local/") ||
		model == "<local>"
}
