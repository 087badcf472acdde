package attendance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"instaq/internal/apperr"
)

var validate = validator.New()

// Submission is a scan request that passed validation, with strings trimmed
// and defaults applied.
type Submission struct {
	QRCodeData QRCodeData
	Location   GeoPoint
	Notes      string
}

// ValidateSubmission checks a raw scan request body of the form
// {"qrCodeData": {...}, "location": {...}, "notes": "..."}. Every check runs;
// the returned *apperr.ValidationError lists all violations in check order.
func ValidateSubmission(body []byte) (Submission, error) {
	verr := &apperr.ValidationError{}
	sub := Submission{Location: DefaultLocation()}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		raw = nil
	}
	payload, _ := raw.(map[string]any)

	qr, ok := payload["qrCodeData"].(map[string]any)
	if !ok {
		verr.Add("qrCodeData", "QR code data is required")
	}

	if typ, _ := qr["type"].(string); typ != QRType {
		verr.Add("qrCodeData.type", "Invalid QR code type")
	}
	sub.QRCodeData.Type = QRType

	date, ok := requiredText(qr["date"])
	if !ok {
		verr.Add("qrCodeData.date", "Date is required")
	}
	sub.QRCodeData.Date = date

	tm, ok := requiredText(qr["time"])
	if !ok {
		verr.Add("qrCodeData.time", "Time is required")
	}
	sub.QRCodeData.Time = tm

	members, ok := qr["familyMembers"].([]any)
	if !ok || len(members) == 0 {
		verr.Add("qrCodeData.familyMembers", "At least one family member is required")
	}
	sub.QRCodeData.FamilyMembers = make([]FamilyMember, 0, len(members))
	for i, m := range members {
		sub.QRCodeData.FamilyMembers = append(sub.QRCodeData.FamilyMembers,
			validateMember(fmt.Sprintf("qrCodeData.familyMembers[%d]", i), m, verr))
	}

	if loc, present := payload["location"]; present && loc != nil {
		point, ok := parseLocation(loc)
		if !ok {
			verr.Add("location", "Location must be a point with [longitude, latitude] coordinates")
		}
		sub.Location = point
	}

	if notes, present := payload["notes"]; present && notes != nil {
		s, ok := notes.(string)
		if !ok {
			verr.Add("notes", "Notes must be a string")
		}
		sub.Notes = strings.TrimSpace(s)
	}

	if err := verr.OrNil(); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

func validateMember(path string, raw any, verr *apperr.ValidationError) FamilyMember {
	obj, _ := raw.(map[string]any)
	var m FamilyMember

	name, _ := obj["name"].(string)
	m.Name = strings.TrimSpace(name)
	if validate.Var(m.Name, "required") != nil {
		verr.Add(path+".name", "Family member name is required")
	}

	age, ok := integer(obj["age"])
	if !ok || validate.Var(age, "gte=0") != nil {
		verr.Add(path+".age", "Valid age is required")
	}
	m.Age = int(age)

	if v, present := obj["isChild"]; present && v != nil {
		b, ok := v.(bool)
		if !ok {
			verr.Add(path+".isChild", "isChild must be a boolean")
		}
		m.IsChild = b
	}

	for _, f := range []struct {
		key string
		dst *string
	}{
		{"phone", &m.Phone},
		{"address", &m.Address},
		{"emergencyContact", &m.EmergencyContact},
	} {
		v, present := obj[f.key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			verr.Add(path+"."+f.key, f.key+" must be a string")
		}
		*f.dst = strings.TrimSpace(s)
	}
	return m
}

// requiredText accepts non-blank strings and, like the QR generator may emit,
// plain numbers.
func requiredText(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	}
	return s, validate.Var(s, "required") == nil
}

// integer accepts JSON integers and integer strings.
func integer(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func parseLocation(v any) (GeoPoint, bool) {
	point := DefaultLocation()
	obj, ok := v.(map[string]any)
	if !ok {
		return point, false
	}
	if typ, present := obj["type"]; present && typ != "Point" {
		return point, false
	}
	coords, ok := obj["coordinates"].([]any)
	if !ok {
		return point, !present(obj, "coordinates")
	}
	if len(coords) != 2 {
		return point, false
	}
	for i, c := range coords {
		n, ok := c.(json.Number)
		if !ok {
			return DefaultLocation(), false
		}
		f, err := n.Float64()
		if err != nil {
			return DefaultLocation(), false
		}
		point.Coordinates[i] = f
	}
	return point, true
}

func present(obj map[string]any, key string) bool {
	_, ok := obj[key]
	return ok
}
