package attendance

import (
	"encoding/json"
	"time"

	"instaq/internal/auth"
)

// QRType is the only qrCodeData.type an attendance scan may carry.
const QRType = "attendance"

// Status is the review state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// FamilyMember is one person covered by a scan.
type FamilyMember struct {
	Name             string `json:"name"`
	Age              int    `json:"age"`
	IsChild          bool   `json:"isChild"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	EmergencyContact string `json:"emergencyContact,omitempty"`
}

// QRCodeData is the decoded content of the family QR code.
type QRCodeData struct {
	Type          string         `json:"type"`
	Date          string         `json:"date"`
	Time          string         `json:"time"`
	FamilyMembers []FamilyMember `json:"familyMembers"`
}

// GeoPoint is a GeoJSON style point; Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// DefaultLocation is used when a scan carries no location.
func DefaultLocation() GeoPoint {
	return GeoPoint{Type: "Point"}
}

// DeviceInfo is captured from the submitting request for audit only.
type DeviceInfo struct {
	UserAgent string `json:"userAgent"`
	IPAddress string `json:"ipAddress"`
}

// Record is one stored attendance scan.
type Record struct {
	ID         string         `json:"id"`
	QRCodeData QRCodeData     `json:"qrCodeData"`
	ScannedBy  auth.Principal `json:"scannedBy"`
	ScannedAt  time.Time      `json:"scannedAt"`
	Location   GeoPoint       `json:"location"`
	DeviceInfo DeviceInfo     `json:"deviceInfo"`
	Status     Status         `json:"status"`
	Notes      string         `json:"notes,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TotalMembers counts everyone covered by the scan.
func (r Record) TotalMembers() int {
	return len(r.QRCodeData.FamilyMembers)
}

// ChildrenCount counts members flagged as children.
func (r Record) ChildrenCount() int {
	n := 0
	for _, m := range r.QRCodeData.FamilyMembers {
		if m.IsChild {
			n++
		}
	}
	return n
}

// AdultsCount counts members not flagged as children.
func (r Record) AdultsCount() int {
	return r.TotalMembers() - r.ChildrenCount()
}

// Summary returns the derived counts of the record.
func (r Record) Summary() Summary {
	return Summary{
		TotalMembers:  r.TotalMembers(),
		AdultsCount:   r.AdultsCount(),
		ChildrenCount: r.ChildrenCount(),
		ScannedAt:     r.ScannedAt,
	}
}

// MarshalJSON renders the derived counts next to the stored fields.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		TotalMembers  int `json:"totalMembers"`
		AdultsCount   int `json:"adultsCount"`
		ChildrenCount int `json:"childrenCount"`
	}{plain(r), r.TotalMembers(), r.AdultsCount(), r.ChildrenCount()})
}

// Summary is returned alongside a newly created record.
type Summary struct {
	TotalMembers  int       `json:"totalMembers"`
	AdultsCount   int       `json:"adultsCount"`
	ChildrenCount int       `json:"childrenCount"`
	ScannedAt     time.Time `json:"scannedAt"`
}

// Filter narrows list and stats queries. Empty fields match everything.
type Filter struct {
	Date   string
	Status Status
}

// Stats is the aggregate over the records matching a filter.
type Stats struct {
	TotalScans    int64 `json:"totalScans"`
	TotalMembers  int64 `json:"totalMembers"`
	TotalAdults   int64 `json:"totalAdults"`
	TotalChildren int64 `json:"totalChildren"`
}

// Pagination describes where a page sits in the full result.
type Pagination struct {
	CurrentPage  int  `json:"currentPage"`
	PageSize     int  `json:"pageSize"`
	TotalPages   int  `json:"totalPages"`
	TotalRecords int  `json:"totalRecords"`
	HasNextPage  bool `json:"hasNextPage"`
	HasPrevPage  bool `json:"hasPrevPage"`
}

// Page is one page of records, most recent first.
type Page struct {
	Records    []Record   `json:"attendances"`
	Pagination Pagination `json:"pagination"`
}
