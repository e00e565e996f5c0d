package models

// FlagLevel is the escalating intervention level derived from a
// student's low-point count within a term.
type FlagLevel int

const (
	FlagNone    FlagLevel = 0 // on track
	FlagMessage FlagLevel = 1 // message parents
	FlagCall    FlagLevel = 2 // call parents
	FlagMeeting FlagLevel = 3 // meeting required
)

// FlagLevelForLowPoints maps a low-point count to an intervention
// level. Every service computing flags must go through this function;
// the breakpoints are fixed and applied uniformly across dashboards,
// flag listings and progress summaries.
func FlagLevelForLowPoints(lowPointCount int) FlagLevel {
	switch {
	case lowPointCount >= 5:
		return FlagMeeting
	case lowPointCount == 4:
		return FlagCall
	case lowPointCount == 3:
		return FlagMessage
	default:
		return FlagNone
	}
}

// Label returns the human status label for a flag level.
func (f FlagLevel) Label() string {
	switch f {
	case FlagMeeting:
		return "Meeting required"
	case FlagCall:
		return "Call parents"
	case FlagMessage:
		return "Message parents"
	default:
		return "On track"
	}
}
