package upstream

import "github.com/tidwall/gjson"

// ResolveReferenceField implements the documented accessor rule for a
// ServiceNow field that may arrive either as a {display_value, value, link}
// object (when sysparm_display_value is "true" or "all") or as a bare
// scalar string (spec §4.1, §9): prefer display_value, fall back to value,
// and use the raw string when the field is scalar. This is the one place in
// the codebase allowed to see the dual shape — every other layer only ever
// sees the resolved string.
func ResolveReferenceField(result gjson.Result, field string) string {
	v := result.Get(field)
	if !v.Exists() {
		return ""
	}
	if v.IsObject() {
		if dv := v.Get("display_value"); dv.Exists() && dv.String() != "" {
			return dv.String()
		}
		return v.Get("value").String()
	}
	return v.String()
}

// ReferenceLink returns the "link" member of a reference-field object, or
// empty string for scalar fields.
func ReferenceLink(result gjson.Result, field string) string {
	v := result.Get(field)
	if v.IsObject() {
		return v.Get("link").String()
	}
	return ""
}

// ReferenceValue returns the "value" member of a reference-field object —
// its sys_id — rather than the display_value ResolveReferenceField prefers.
// Used for id-only storage of cyclic references (spec §9), e.g. a ticket's
// assignment_group.
func ReferenceValue(result gjson.Result, field string) string {
	v := result.Get(field)
	if !v.Exists() {
		return ""
	}
	if v.IsObject() {
		return v.Get("value").String()
	}
	return v.String()
}
