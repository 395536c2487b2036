package model

import "strings"

// OrgUnitKind is derived from the parent chain and never stored.
type OrgUnitKind string

const (
	KindInstitution OrgUnitKind = "institution"
	KindArea        OrgUnitKind = "area"
	KindSubArea     OrgUnitKind = "subarea"
)

// OrgUnit is a node of the institution → area → sub-area hierarchy
// ("estructura").  Children point at their parent through ParentCode,
// which holds the parent's Code rather than its numeric id.
//
// Fields:
//
//	ID           – primary key identifier.
//	Name         – display name (unidad orgánica).
//	Code         – short unique code (siglas) used as the linkage key.
//	ParentCode   – code of the parent unit; nil for institutions.
//	Active       – inactive units are hidden from check-in forms.
//	PreviousName – display name before the last rename, if any.
type OrgUnit struct {
	ID           uint64      `json:"id"`            // org_units.id
	Name         string      `json:"name"`          // org_units.name
	Code         string      `json:"code"`          // org_units.code
	ParentCode   *string     `json:"parent_code"`   // org_units.parent_code (nullable)
	Active       bool        `json:"active"`        // org_units.active
	PreviousName *string     `json:"previous_name"` // org_units.previous_name (nullable)
	Kind         OrgUnitKind `json:"kind,omitempty"`
}

// HasParent reports whether the unit links to a parent code.
func (u *OrgUnit) HasParent() bool {
	return u.ParentCode != nil && strings.TrimSpace(*u.ParentCode) != ""
}

// Parent returns the trimmed parent code or "".
func (u *OrgUnit) Parent() string {
	if !u.HasParent() {
		return ""
	}
	return strings.TrimSpace(*u.ParentCode)
}
