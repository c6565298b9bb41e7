package models

// ActivityState is one of the fixed domain states a span of a worker-day can resolve to.
type ActivityState string

const (
	StateWork               ActivityState = "WORK"
	StateWorkConfirmed      ActivityState = "WORK_CONFIRMED"
	StateFocusedWork        ActivityState = "FOCUSED_WORK"
	StateEquipmentOperation ActivityState = "EQUIPMENT_OPERATION"
	StateWorkPreparation    ActivityState = "WORK_PREPARATION"
	StateMeeting            ActivityState = "MEETING"
	StateEducation          ActivityState = "EDUCATION"
	StateBreakfast          ActivityState = "BREAKFAST"
	StateLunch              ActivityState = "LUNCH"
	StateDinner             ActivityState = "DINNER"
	StateMidnightMeal       ActivityState = "MIDNIGHT_MEAL"
	StateMovement           ActivityState = "MOVEMENT"
	StateCommuteIn          ActivityState = "COMMUTE_IN"
	StateCommuteOut         ActivityState = "COMMUTE_OUT"
	StateRest               ActivityState = "REST"
	StateLeave              ActivityState = "LEAVE"
	StateBusinessTrip       ActivityState = "BUSINESS_TRIP"

	// StateUnclassified is the low-confidence sentinel. It is not one of the model states.
	StateUnclassified ActivityState = "UNCLASSIFIED"
)

// NumStates is the number of hidden states of the activity model.
const NumStates = 17

var allStates = [NumStates]ActivityState{
	StateWork,
	StateWorkConfirmed,
	StateFocusedWork,
	StateEquipmentOperation,
	StateWorkPreparation,
	StateMeeting,
	StateEducation,
	StateBreakfast,
	StateLunch,
	StateDinner,
	StateMidnightMeal,
	StateMovement,
	StateCommuteIn,
	StateCommuteOut,
	StateRest,
	StateLeave,
	StateBusinessTrip,
}

var stateIndex = func() map[ActivityState]int {
	m := make(map[ActivityState]int, NumStates)
	for i, s := range allStates {
		m[s] = i
	}
	return m
}()

// AllStates returns the model states in enumeration order.
func AllStates() []ActivityState {
	out := make([]ActivityState, NumStates)
	copy(out, allStates[:])
	return out
}

// StateAt returns the state with enumeration index i.
func StateAt(i int) ActivityState {
	if i < 0 || i >= NumStates {
		return StateUnclassified
	}
	return allStates[i]
}

// Index returns the enumeration index of s, or -1 for the sentinel and unknown values.
func (s ActivityState) Index() int {
	if i, ok := stateIndex[s]; ok {
		return i
	}
	return -1
}

// Valid reports whether s is one of the model states.
func (s ActivityState) Valid() bool {
	return s.Index() >= 0
}

func (s ActivityState) IsMeal() bool {
	switch s {
	case StateBreakfast, StateLunch, StateDinner, StateMidnightMeal:
		return true
	}
	return false
}

func (s ActivityState) IsCommute() bool {
	return s == StateCommuteIn || s == StateCommuteOut
}

// IsWork reports whether s is one of the work variants.
func (s ActivityState) IsWork() bool {
	switch s {
	case StateWork, StateWorkConfirmed, StateFocusedWork, StateEquipmentOperation, StateWorkPreparation:
		return true
	}
	return false
}
