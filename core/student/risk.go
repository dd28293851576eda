package student

// RiskLevel is the PHQ-9 severity tier of a result.
type RiskLevel string

// Risk levels, ascending.
const (
	RiskBlue   RiskLevel = "blue"
	RiskGreen  RiskLevel = "green"
	RiskYellow RiskLevel = "yellow"
	RiskOrange RiskLevel = "orange"
	RiskRed    RiskLevel = "red"
)

var RiskLevels = []RiskLevel{RiskBlue, RiskGreen, RiskYellow, RiskOrange, RiskRed}

// Rank orders risk levels; unknown levels rank below blue.
func (r RiskLevel) Rank() int {
	for i, lvl := range RiskLevels {
		if r == lvl {
			return i + 1
		}
	}
	return 0
}

func (r RiskLevel) IsValid() bool { return r.Rank() > 0 }

// Scores are the answers of a PHQ-9 questionnaire, each 0-3.
// Q9a and Q9b are the follow-ups of the self-harm question.
type Scores struct {
	Q1  int  `json:"q1" validate:"min=0,max=3"`
	Q2  int  `json:"q2" validate:"min=0,max=3"`
	Q3  int  `json:"q3" validate:"min=0,max=3"`
	Q4  int  `json:"q4" validate:"min=0,max=3"`
	Q5  int  `json:"q5" validate:"min=0,max=3"`
	Q6  int  `json:"q6" validate:"min=0,max=3"`
	Q7  int  `json:"q7" validate:"min=0,max=3"`
	Q8  int  `json:"q8" validate:"min=0,max=3"`
	Q9  int  `json:"q9" validate:"min=0,max=3"`
	Q9a bool `json:"q9a"`
	Q9b bool `json:"q9b"`
}

func (s Scores) Answers() [9]int {
	return [9]int{s.Q1, s.Q2, s.Q3, s.Q4, s.Q5, s.Q6, s.Q7, s.Q8, s.Q9}
}

func (s Scores) Total() int {
	total := 0
	for _, a := range s.Answers() {
		total += a
	}
	return total
}

// Risk maps scores to a risk level. A positive self-harm follow-up is
// always red, whatever the total.
func (s Scores) Risk() RiskLevel {
	if s.Q9a || s.Q9b {
		return RiskRed
	}
	switch total := s.Total(); {
	case total <= 4:
		return RiskBlue
	case total <= 9:
		return RiskGreen
	case total <= 14:
		return RiskYellow
	case total <= 19:
		return RiskOrange
	default:
		return RiskRed
	}
}

var activityPlans = map[RiskLevel][]int{
	RiskBlue:   nil,
	RiskGreen:  {1, 5},
	RiskYellow: {1, 2, 3, 5},
	RiskOrange: {1, 2, 3, 4, 5},
	RiskRed:    {1, 2, 3, 4, 5},
}

// ActivityPlan returns the activity numbers, ascending, assigned to a risk level.
func ActivityPlan(r RiskLevel) []int {
	plan := activityPlans[r]
	out := make([]int, len(plan))
	copy(out, plan)
	return out
}
