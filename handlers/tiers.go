package handlers

import (
	"net/http"

	"kaiden.app/licensing/internal/tier"
)

type TierInfo struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

type AccessResponse struct {
	Tier      string `json:"tier"`
	Required  string `json:"required"`
	HasAccess bool   `json:"has_access"`
}

type FeatureInfo struct {
	Name        string `json:"name"`
	MinimumTier string `json:"minimum_tier"`
	Available   *bool  `json:"available,omitempty"`
}

type FeaturesResponse struct {
	Tier     string        `json:"tier,omitempty"`
	Features []FeatureInfo `json:"features"`
}

func (s *Server) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers := make([]TierInfo, 0, len(tier.Order))
	for _, t := range tier.Order {
		tiers = append(tiers, TierInfo{Name: string(t), Rank: t.Rank()})
	}
	writeJSON(w, http.StatusOK, map[string][]TierInfo{"tiers": tiers})
}

func (s *Server) TierAccess(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("tier")
	required := r.URL.Query().Get("required")
	if user == "" || required == "" {
		writeErrorResponse(w, http.StatusBadRequest, "tier and required are both required")
		return
	}

	have, need := canonical(user), canonical(required)
	writeJSON(w, http.StatusOK, AccessResponse{
		Tier:      string(have),
		Required:  string(need),
		HasAccess: tier.HasAccess(have, need),
	})
}

// ListFeatures returns the catalog. With ?tier= each entry also reports
// whether that tier unlocks it.
func (s *Server) ListFeatures(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("tier")

	resp := FeaturesResponse{Features: []FeatureInfo{}}
	var t tier.Tier
	if raw != "" {
		t = canonical(raw)
		resp.Tier = string(t)
	}

	for _, f := range tier.Features() {
		minimum, _ := tier.MinimumTier(f)
		info := FeatureInfo{Name: string(f), MinimumTier: string(minimum)}
		if raw != "" {
			ok := tier.CanUse(t, f)
			info.Available = &ok
		}
		resp.Features = append(resp.Features, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

// canonical maps loose spellings onto known tiers. Unknown names pass
// through unchanged and rank lowest.
func canonical(s string) tier.Tier {
	if t, ok := tier.Parse(s); ok {
		return t
	}
	return tier.Tier(s)
}
