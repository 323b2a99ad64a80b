package logger

import "strings"

// RedactUserID masks an end-user identifier for safe logging.
// "8127345991" → "81***91"
// Short ids (≤4 chars) are fully masked.
func RedactUserID(id string) string {
	if len(id) <= 4 {
		return "***"
	}
	return id[:2] + "***" + id[len(id)-2:]
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	// End-user identifiers from event payloads are PII under most ad-tech
	// data processing agreements; campaign/tenant/aggregate ids are not.
	if key == "user_id" || strings.HasSuffix(key, ".user_id") {
		return RedactUserID(val)
	}
	return val
}
