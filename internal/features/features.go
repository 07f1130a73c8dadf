package features

import (
	"strings"
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag. Registering an existing name keeps
// its current state and only updates the description.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Description = description
		return
	}
	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false // Default to disabled if flag doesn't exist
	}

	return flag.Enabled
}

// Enable enables a feature flag, registering it if needed.
func (m *Manager) Enable(name string) {
	m.set(name, true)
}

// Disable disables a feature flag, registering it if needed.
func (m *Manager) Disable(name string) {
	m.set(name, false)
}

func (m *Manager) set(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = enabled
		return
	}
	m.flags[name] = &FeatureFlag{Name: name, Enabled: enabled}
}

// GetAll returns all feature flags.
func (m *Manager) GetAll() map[string]*FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*FeatureFlag)
	for k, v := range m.flags {
		result[k] = &FeatureFlag{
			Name:        v.Name,
			Enabled:     v.Enabled,
			Description: v.Description,
		}
	}
	return result
}

// Apply parses a comma-separated list of "name=on|off" overrides. A bare name
// enables the flag.
func (m *Manager) Apply(spec string) {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, hasValue := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !hasValue {
			m.Enable(name)
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "on", "true", "1", "enabled":
			m.Enable(name)
		default:
			m.Disable(name)
		}
	}
}

// Predefined feature flag names
const (
	// FeatureWebhookProcessing enables the background webhook processor
	FeatureWebhookProcessing = "webhook_processing"
	// FeatureMediaRecommendations enables event and product recommendations
	FeatureMediaRecommendations = "media_recommendations"
)

// ScraperFlag is the flag gating one scraper adapter.
func ScraperFlag(adapter string) string {
	return "scraper." + adapter
}

// Defaults returns a manager with the built-in flags registered.
func Defaults() *Manager {
	m := NewManager()
	m.Register(FeatureWebhookProcessing, true, "Process verified webhook events in the background")
	m.Register(FeatureMediaRecommendations, true, "Serve event and product recommendations")
	return m
}
