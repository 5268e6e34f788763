package types

// RequiredBlueprintFields are the intake fields that must be populated (or
// explicitly bypassed) before a project leaves blueprint mode.
var RequiredBlueprintFields = []string{
	"desiredOutcome",
	"audience",
	"materials",
	"voiceGuardrails",
}

// MissingFields reports which required blueprint fields are still blank and
// not bypassed.
func MissingFields(bp Blueprint) []string {
	bypassed := make(map[string]struct{}, len(bp.BypassedFields))
	for _, f := range bp.BypassedFields {
		bypassed[f] = struct{}{}
	}
	var missing []string
	for _, field := range RequiredBlueprintFields {
		if _, skip := bypassed[field]; skip {
			continue
		}
		if BlueprintFieldValue(bp, field) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Summarize computes the blueprint summary for a bundle.
func Summarize(bp Blueprint) BlueprintSummary {
	missing := MissingFields(bp)
	status := BlueprintIncomplete
	switch {
	case bp.Committed && len(bp.BypassedFields) > 0:
		status = BlueprintBypassed
	case bp.Committed || len(missing) == 0:
		status = BlueprintComplete
	}
	return BlueprintSummary{Status: status, MissingFields: missing}
}

// BlueprintFieldValue reads one named intake field, "" for unknown names.
func BlueprintFieldValue(bp Blueprint, field string) string {
	switch field {
	case "desiredOutcome":
		return bp.DesiredOutcome
	case "audience":
		return bp.Audience
	case "materials":
		return bp.Materials
	case "voiceGuardrails":
		return bp.VoiceGuardrails
	case "cadence":
		return bp.Cadence
	case "successMetric":
		return bp.SuccessMetric
	default:
		return ""
	}
}

// SetBlueprintField writes one named intake field. It reports false for a
// field name the schema does not define, so tool calls with typo'd names
// surface to the model instead of silently writing nothing.
func SetBlueprintField(bp *Blueprint, field, value string) bool {
	switch field {
	case "desiredOutcome":
		bp.DesiredOutcome = value
	case "audience":
		bp.Audience = value
	case "materials":
		bp.Materials = value
	case "voiceGuardrails":
		bp.VoiceGuardrails = value
	case "cadence":
		bp.Cadence = value
	case "successMetric":
		bp.SuccessMetric = value
	default:
		return false
	}
	return true
}
