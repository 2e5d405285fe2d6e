package storage

import (
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// RefreshConfigAdapter satisfies internal/refresh.Store by reading and
// writing RefreshConfig through the same SkillStore skills are persisted
// in, rather than keeping refresh state in a second file per skill.
type RefreshConfigAdapter struct {
	skills *SkillStore
}

// NewRefreshConfigAdapter wraps skills for the refresh scheduler.
func NewRefreshConfigAdapter(skills *SkillStore) *RefreshConfigAdapter {
	return &RefreshConfigAdapter{skills: skills}
}

// ListConfigs returns every skill's first endpoint carrying a
// RefreshConfig, keyed by skill id.
func (a *RefreshConfigAdapter) ListConfigs() map[string]*models.RefreshConfig {
	out := map[string]*models.RefreshConfig{}
	skills, err := a.skills.List()
	if err != nil {
		return out
	}
	for _, skill := range skills {
		for _, ep := range skill.Endpoints {
			if ep.RefreshConfig != nil {
				out[skill.SkillID] = ep.RefreshConfig
				break
			}
		}
	}
	return out
}

// SaveConfig writes cfg back onto every endpoint of skillID that already
// carried a RefreshConfig (there is normally exactly one).
func (a *RefreshConfigAdapter) SaveConfig(skillID string, cfg *models.RefreshConfig) {
	skill, found, err := a.skills.LoadByID(skillID)
	if err != nil || !found {
		return
	}
	changed := false
	for i := range skill.Endpoints {
		if skill.Endpoints[i].RefreshConfig != nil {
			skill.Endpoints[i].RefreshConfig = cfg
			changed = true
		}
	}
	if changed {
		_ = a.skills.Save(skill)
	}
}
