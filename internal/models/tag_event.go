package models

import "time"

// TagCode is the class code of a tag location.
type TagCode string

const (
	TagWorkArea     TagCode = "G1"
	TagPreparation  TagCode = "G2"
	TagMeetingRoom  TagCode = "G3"
	TagEducation    TagCode = "G4"
	TagCafeteria    TagCode = "N1"
	TagRestArea     TagCode = "N2"
	TagCorridor     TagCode = "T1"
	TagGateIn       TagCode = "T2"
	TagGateOut      TagCode = "T3"
	TagMeal         TagCode = "M1"
	TagTakeout      TagCode = "M2"
	TagEquipment    TagCode = "O"
	TagLeave        TagCode = "L1"
	TagBusinessTrip TagCode = "L2"
	TagUnknown      TagCode = ""
)

// IsGate reports whether the code denotes a building entry or exit point.
func (c TagCode) IsGate() bool {
	return c == TagGateIn || c == TagGateOut
}

// IsMeal reports whether the code denotes cafeteria or takeout meal service.
func (c TagCode) IsMeal() bool {
	return c == TagMeal || c == TagTakeout
}

// LocationCategory groups locations by what happens there.
type LocationCategory string

const (
	CategoryWorkArea    LocationCategory = "work_area"
	CategoryPreparation LocationCategory = "preparation"
	CategoryMeetingRoom LocationCategory = "meeting_room"
	CategoryEducation   LocationCategory = "education"
	CategoryCafeteria   LocationCategory = "cafeteria"
	CategoryRestArea    LocationCategory = "rest_area"
	CategoryCorridor    LocationCategory = "corridor"
	CategoryGate        LocationCategory = "gate"
	CategoryEquipment   LocationCategory = "equipment"
	CategoryAttendance  LocationCategory = "attendance"
	CategoryOther       LocationCategory = "other"
)

// Categories lists every location category in feature-encoding order.
var Categories = []LocationCategory{
	CategoryWorkArea,
	CategoryPreparation,
	CategoryMeetingRoom,
	CategoryEducation,
	CategoryCafeteria,
	CategoryRestArea,
	CategoryCorridor,
	CategoryGate,
	CategoryEquipment,
	CategoryAttendance,
	CategoryOther,
}

// CategoryForCode returns the category implied by a tag code.
func CategoryForCode(c TagCode) LocationCategory {
	switch c {
	case TagWorkArea:
		return CategoryWorkArea
	case TagPreparation:
		return CategoryPreparation
	case TagMeetingRoom:
		return CategoryMeetingRoom
	case TagEducation:
		return CategoryEducation
	case TagCafeteria, TagMeal, TagTakeout:
		return CategoryCafeteria
	case TagRestArea:
		return CategoryRestArea
	case TagCorridor:
		return CategoryCorridor
	case TagGateIn, TagGateOut:
		return CategoryGate
	case TagEquipment:
		return CategoryEquipment
	case TagLeave, TagBusinessTrip:
		return CategoryAttendance
	}
	return CategoryOther
}

// Source systems that contribute events besides the badge readers.
const (
	SourceBadge      = "badge"
	SourceMeal       = "meal"
	SourceEquipment  = "equipment"
	SourceApproval   = "approval"
	SourceAttendance = "attendance"
)

// TagEvent is one raw observation as delivered by ingestion. Consumers never modify it.
type TagEvent struct {
	ID           int64     `json:"id,omitempty" db:"id"`
	WorkerID     string    `json:"worker_id" db:"worker_id"`
	Timestamp    time.Time `json:"timestamp" db:"ts"`
	Location     string    `json:"location" db:"location"`
	TagCode      TagCode   `json:"tag_code,omitempty" db:"tag_code"`
	SourceSystem string    `json:"source_system,omitempty" db:"source_system"`
}

// IsAuxiliary reports whether the event came from a non-badge system.
func (e TagEvent) IsAuxiliary() bool {
	return e.SourceSystem != "" && e.SourceSystem != SourceBadge
}

// Observation is a preprocessed event with its resolved location class and dwell annotations.
type Observation struct {
	Event    TagEvent         `json:"event"`
	Code     TagCode          `json:"code"`
	Category LocationCategory `json:"category"`
	WorkDate time.Time        `json:"work_date"`

	// Dwell is the time until the next retained observation; zero for the last one.
	Dwell    time.Duration `json:"dwell"`
	HasNext  bool          `json:"has_next"`
	GapAfter bool          `json:"gap_after"`

	Anomaly       bool   `json:"anomaly,omitempty"`
	AnomalyReason string `json:"anomaly_reason,omitempty"`
}

// Time is shorthand for the observation timestamp.
func (o Observation) Time() time.Time {
	return o.Event.Timestamp
}
