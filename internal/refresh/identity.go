package refresh

import (
	"encoding/json"
	"strings"

	"gorm.io/datatypes"

	"github.com/router-for-me/UsageDeck/internal/models"
	"github.com/router-for-me/UsageDeck/internal/provider"
)

// credentialExtraKeys never leave the config file. Everything else in Extra
// is kept on the identity row for forward compatibility.
var credentialExtraKeys = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"token":         {},
}

// identityFromConfig maps a configured provider entry to its identity row.
// Credential material never enters the identity table.
func identityFromConfig(cfg provider.Config) (models.ProviderIdentity, bool) {
	id := strings.ToLower(strings.TrimSpace(cfg.ID))
	if id == "" || cfg.Disabled {
		return models.ProviderIdentity{}, false
	}
	authSource := "config"
	if provider.IsSystemProvider(id) && !cfg.HasCredential() {
		authSource = "system"
	}
	return models.ProviderIdentity{
		ProviderID:  id,
		DisplayName: strings.TrimSpace(cfg.DisplayName),
		PlanKind:    strings.ToLower(strings.TrimSpace(cfg.PlanHint)),
		AuthSource:  authSource,
		AccountName: strings.TrimSpace(cfg.Extra["account_name"]),
		ExtraConfig: extraConfigJSON(cfg.Extra),
		IsActive:    cfg.HasCredential(),
	}, true
}

// extraConfigJSON serializes the non-credential extras. nil when nothing
// survives the filter, so the identity upsert keeps any previously stored
// blob.
func extraConfigJSON(extra map[string]string) datatypes.JSON {
	filtered := make(map[string]string, len(extra))
	for key, value := range extra {
		if _, sensitive := credentialExtraKeys[key]; sensitive {
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		filtered[key] = value
	}
	if len(filtered) == 0 {
		return nil
	}
	payload, errMarshal := json.Marshal(filtered)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(payload)
}
