package tier

type Feature string

const (
	FeatureAIChat             Feature = "ai_chat"
	FeatureDocumentTemplates  Feature = "document_templates"
	FeatureBusinessGuides     Feature = "business_guides"
	FeatureUnlimitedAI        Feature = "unlimited_ai"
	FeatureCreditRepair       Feature = "credit_repair"
	FeatureVoiceAI            Feature = "voice_ai"
	FeatureLLCFormation       Feature = "llc_formation"
	FeatureGrantWriting       Feature = "grant_writing"
	FeatureContentCreation    Feature = "content_creation"
	FeatureAIArena            Feature = "ai_arena"
	FeatureCryptoInvestment   Feature = "crypto_investment"
	FeatureAcademyAccess      Feature = "academy_access"
	FeatureWhiteLabel         Feature = "white_label"
	FeatureCustomIntegrations Feature = "custom_integrations"
	FeatureAPIAccess          Feature = "api_access"
	FeatureAdvancedAnalytics  Feature = "advanced_analytics"
)

type featureEntry struct {
	feature Feature
	minimum Tier
}

// catalog is ordered for stable listings.
var catalog = []featureEntry{
	{FeatureAIChat, Starter},
	{FeatureDocumentTemplates, Starter},
	{FeatureBusinessGuides, Starter},
	{FeatureUnlimitedAI, Operator},
	{FeatureCreditRepair, Operator},
	{FeatureVoiceAI, Operator},
	{FeatureLLCFormation, Operator},
	{FeatureGrantWriting, Growth},
	{FeatureContentCreation, Growth},
	{FeatureAIArena, Growth},
	{FeatureCryptoInvestment, Growth},
	{FeatureAcademyAccess, Growth},
	{FeatureWhiteLabel, Empire},
	{FeatureCustomIntegrations, Empire},
	{FeatureAPIAccess, Empire},
	{FeatureAdvancedAnalytics, Empire},
}

// MinimumTier returns the lowest tier that unlocks f.
func MinimumTier(f Feature) (Tier, bool) {
	for _, e := range catalog {
		if e.feature == f {
			return e.minimum, true
		}
	}
	return "", false
}

// CanUse reports whether t unlocks f. Unknown features are never usable.
func CanUse(t Tier, f Feature) bool {
	min, ok := MinimumTier(f)
	if !ok {
		return false
	}
	return HasAccess(t, min)
}

// FeaturesFor lists every feature t unlocks, in catalog order.
func FeaturesFor(t Tier) []Feature {
	var out []Feature
	for _, e := range catalog {
		if HasAccess(t, e.minimum) {
			out = append(out, e.feature)
		}
	}
	return out
}

// Features lists the whole catalog.
func Features() []Feature {
	out := make([]Feature, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e.feature)
	}
	return out
}
