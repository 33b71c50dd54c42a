// Package compliance holds the HIPAA-facing helpers: the role access rule,
// the access audit logger and display sanitization.
package compliance

import "healthcare-portal/internal/model"

// CanAccess applies the role policy to a resource owned by resourceOwnerID.
// Patients reach only their own resources, and a resource without an owner
// is never theirs: an empty owner is denied even when requestingUserID is
// empty too.
//
// Known limitation: doctors are allowed unconditionally. The doctor-patient
// assignment check is left to the caller.
func CanAccess(role model.Role, resourceOwnerID, requestingUserID string) bool {
	switch role {
	case model.RolePatient:
		return resourceOwnerID != "" && resourceOwnerID == requestingUserID
	case model.RoleDoctor:
		return true
	case model.RoleAdmin:
		return true
	}
	return false
}

// sensitiveFields never leave the device's trusted surfaces.
var sensitiveFields = []string{
	"socialSecurityNumber",
	"fullCreditCardNumber",
}

// SanitizeForDisplay returns a shallow copy of record without the
// sensitive fields. record itself is not modified.
func SanitizeForDisplay(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	for _, f := range sensitiveFields {
		delete(out, f)
	}
	return out
}
