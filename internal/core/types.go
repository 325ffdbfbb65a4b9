package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without time-of-day, encoded as YYYY-MM-DD in JSON
// and in the database.
type Date struct {
	time.Time
}

// NewDate returns the Date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

// String formats the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan implements sql.Scanner. Drivers hand dates back either as text or as
// time.Time depending on the column type.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = Date{time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)}
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if s == "" {
		*d = Date{}
		return nil
	}
	// Tolerate timestamps written by older rows.
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Member is a synthetic group member as returned to clients.
// CustomFields is nil when the member has no non-empty custom values.
type Member struct {
	ID                    string            `json:"id"`
	DateMemberJoinedGroup Date              `json:"date_member_joined_group"`
	FirstName             string            `json:"first_name"`
	Surname               string            `json:"surname"`
	Birthday              Date              `json:"birthday"`
	PhoneNumber           string            `json:"phone_number"`
	Email                 string            `json:"email"`
	Address               string            `json:"address"`
	Latitude              *float64          `json:"latitude"`
	Longitude             *float64          `json:"longitude"`
	CustomFields          map[string]string `json:"custom_fields"`
}

// HasCoordinates reports whether both coordinates are set.
func (m Member) HasCoordinates() bool {
	return m.Latitude != nil && m.Longitude != nil
}

// MemberPatch is a partial member update. A nil pointer leaves the attribute
// untouched; JSON null and an omitted key are equivalent.
type MemberPatch struct {
	DateMemberJoinedGroup *Date             `json:"date_member_joined_group"`
	FirstName             *string           `json:"first_name"`
	Surname               *string           `json:"surname"`
	Birthday              *Date             `json:"birthday"`
	PhoneNumber           *string           `json:"phone_number"`
	Email                 *string           `json:"email"`
	Address               *string           `json:"address"`
	Latitude              *float64          `json:"latitude"`
	Longitude             *float64          `json:"longitude"`
	CustomFields          map[string]string `json:"custom_fields"`
}

// IsEmpty reports whether the patch would change nothing.
func (p MemberPatch) IsEmpty() bool {
	return p.DateMemberJoinedGroup == nil &&
		p.FirstName == nil &&
		p.Surname == nil &&
		p.Birthday == nil &&
		p.PhoneNumber == nil &&
		p.Email == nil &&
		p.Address == nil &&
		p.Latitude == nil &&
		p.Longitude == nil &&
		len(p.CustomFields) == 0
}

// Validate checks the coordinate pairing rule.
func (p MemberPatch) Validate() error {
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return NewValidationError(FieldProblem{
			Field:   "latitude/longitude",
			Message: "latitude and longitude must be updated together",
		})
	}
	if p.Latitude != nil {
		if err := validateCoordinates(*p.Latitude, *p.Longitude); err != nil {
			return err
		}
	}
	return nil
}

func validateCoordinates(lat, lon float64) error {
	var problems []FieldProblem
	if lat < -90 || lat > 90 {
		problems = append(problems, FieldProblem{Field: "latitude", Message: "must be between -90 and 90"})
	}
	if lon < -180 || lon > 180 {
		problems = append(problems, FieldProblem{Field: "longitude", Message: "must be between -180 and 180"})
	}
	if len(problems) > 0 {
		return NewValidationError(problems...)
	}
	return nil
}

// FieldType is the declared type of a custom field.
type FieldType string

const (
	FieldString       FieldType = "string"
	FieldInteger      FieldType = "integer"
	FieldAlphanumeric FieldType = "alphanumeric"
	FieldEmail        FieldType = "email"
	FieldPhone        FieldType = "phone"
	FieldDate         FieldType = "date"
)

// FieldTypes lists every accepted custom field type.
var FieldTypes = []FieldType{FieldString, FieldInteger, FieldAlphanumeric, FieldEmail, FieldPhone, FieldDate}

// Valid reports whether t is one of FieldTypes.
func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// CustomFieldDefinition describes a user-defined member attribute.
// ValidationRules is stored as metadata and is not enforced against values.
type CustomFieldDefinition struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	FieldType       FieldType      `json:"field_type"`
	ValidationRules map[string]any `json:"validation_rules"`
	CreatedAt       time.Time      `json:"created_at"`
}

// CustomFieldCreate is the input for defining a new custom field.
type CustomFieldCreate struct {
	Name            string         `json:"name"`
	FieldType       FieldType      `json:"field_type"`
	ValidationRules map[string]any `json:"validation_rules"`
}

// Validate checks the name and type of a new field.
func (c CustomFieldCreate) Validate() error {
	var problems []FieldProblem
	if strings.TrimSpace(c.Name) == "" {
		problems = append(problems, FieldProblem{Field: "name", Message: "must not be empty"})
	}
	if !c.FieldType.Valid() {
		problems = append(problems, FieldProblem{
			Field:   "field_type",
			Message: fmt.Sprintf("invalid enum value %q", c.FieldType),
		})
	}
	if len(problems) > 0 {
		return NewValidationError(problems...)
	}
	return nil
}

// FieldPatch is a partial custom field update. field_type is immutable.
type FieldPatch struct {
	Name            *string        `json:"name"`
	ValidationRules map[string]any `json:"validation_rules"`
}

// IsEmpty reports whether the patch would change nothing.
func (p FieldPatch) IsEmpty() bool {
	return p.Name == nil && p.ValidationRules == nil
}

// Validate rejects a blank replacement name.
func (p FieldPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return NewValidationError(FieldProblem{Field: "name", Message: "must not be empty"})
	}
	return nil
}

// Address is one real-world street address with its coordinates.
type Address struct {
	Formatted string
	Latitude  float64
	Longitude float64
}

// GenerateRequest describes a batch of members to fabricate.
// Nil ages fall back to DefaultMinAge and DefaultMaxAge.
type GenerateRequest struct {
	City    string `json:"city"`
	Country string `json:"country"`
	Count   int    `json:"count"`
	MinAge  *int   `json:"min_age"`
	MaxAge  *int   `json:"max_age"`
}

const (
	MaxGenerateCount = 100
	MaxAge           = 120
	DefaultMinAge    = 18
	DefaultMaxAge    = 90
)

// Normalize applies defaults and validates the request.
func (r GenerateRequest) Normalize() (FabricationParams, error) {
	params := FabricationParams{
		City:    strings.TrimSpace(r.City),
		Country: strings.TrimSpace(r.Country),
		MinAge:  DefaultMinAge,
		MaxAge:  DefaultMaxAge,
	}
	if r.MinAge != nil {
		params.MinAge = *r.MinAge
	}
	if r.MaxAge != nil {
		params.MaxAge = *r.MaxAge
	}

	var problems []FieldProblem
	if params.City == "" {
		problems = append(problems, FieldProblem{Field: "city", Message: "must not be empty"})
	}
	if params.Country == "" {
		problems = append(problems, FieldProblem{Field: "country", Message: "must not be empty"})
	}
	if r.Count < 1 || r.Count > MaxGenerateCount {
		problems = append(problems, FieldProblem{
			Field:   "count",
			Message: fmt.Sprintf("must be between 1 and %d", MaxGenerateCount),
		})
	}
	if params.MinAge < 0 || params.MinAge > MaxAge {
		problems = append(problems, FieldProblem{Field: "min_age", Message: fmt.Sprintf("must be between 0 and %d", MaxAge)})
	}
	if params.MaxAge < 0 || params.MaxAge > MaxAge {
		problems = append(problems, FieldProblem{Field: "max_age", Message: fmt.Sprintf("must be between 0 and %d", MaxAge)})
	}
	if params.MaxAge < params.MinAge {
		problems = append(problems, FieldProblem{Field: "max_age", Message: "must be greater than or equal to min_age"})
	}
	if len(problems) > 0 {
		return FabricationParams{}, NewValidationError(problems...)
	}
	return params, nil
}

// FabricationParams is the validated input handed to a Fabricator.
type FabricationParams struct {
	City    string
	Country string
	MinAge  int
	MaxAge  int
}

// Table is an in-memory tabular snapshot handed to export formatters.
// Cells are pre-formatted strings; nil marks an absent value.
type Table struct {
	Columns []string
	Rows    [][]*string
}

// AddressSource returns count plausible street addresses for a city.
type AddressSource interface {
	Addresses(ctx context.Context, city, country string, count int) ([]Address, error)
}

// Fabricator produces one candidate member record. The returned member has
// no ID; the caller assigns identity.
type Fabricator interface {
	Fabricate(ctx context.Context, params FabricationParams) (Member, error)
}
