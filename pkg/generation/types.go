package generation

// Candidate is a bot the planner may assign work to
type Candidate struct {
	BotID      uint     `json:"bot_id"`
	Name       string   `json:"name"`
	Skills     []string `json:"skills"`
	Reputation float64  `json:"reputation"`
}

// PlanRequest asks the planner to break a job into steps
type PlanRequest struct {
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Category       string      `json:"category"`
	RequiredSkills []string    `json:"required_skills"`
	Feedback       string      `json:"feedback,omitempty"`
	Candidates     []Candidate `json:"candidates"`
}

// PlanStep is one ordered step of a plan
type PlanStep struct {
	BotID        uint   `json:"bot_id"`
	Role         string `json:"role"`
	OutputType   string `json:"output_type"`
	Instructions string `json:"instructions"`
}

// Share is a worker's fraction of the payout
type Share struct {
	BotID uint    `json:"bot_id"`
	Share float64 `json:"share"`
}

// Plan is the planner's answer
type Plan struct {
	Steps  []PlanStep `json:"steps"`
	Shares []Share    `json:"shares"`
}

// StepRequest asks a worker to produce one step's output
type StepRequest struct {
	JobTitle       string   `json:"job_title"`
	JobDescription string   `json:"job_description"`
	Role           string   `json:"role"`
	OutputType     string   `json:"output_type"`
	Instructions   string   `json:"instructions"`
	PriorOutputs   []string `json:"prior_outputs,omitempty"`
	Feedback       string   `json:"feedback,omitempty"`
}

// ReviewRequest asks a peer to check a draft deliverable
type ReviewRequest struct {
	JobTitle       string `json:"job_title"`
	JobDescription string `json:"job_description"`
	Draft          string `json:"draft"`
}

// PeerReview is a peer's verdict on a draft
type PeerReview struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// AssessRequest asks the reviewer for a formal quality score
type AssessRequest struct {
	JobTitle       string `json:"job_title"`
	JobDescription string `json:"job_description"`
	Category       string `json:"category"`
	Deliverable    string `json:"deliverable"`
}

// Scores holds the per-dimension marks, each in [0,10]
type Scores struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Quality      float64 `json:"quality"`
	DomainFit    float64 `json:"domain_fit"`
	Value        float64 `json:"value"`
}

// Mean is the unweighted average of the five dimensions.
func (s Scores) Mean() float64 {
	return (s.Completeness + s.Accuracy + s.Quality + s.DomainFit + s.Value) / 5
}

// Assessment is the reviewer's formal verdict. Overall is nil when the
// reviewer did not send one.
type Assessment struct {
	Scores   Scores   `json:"scores"`
	Overall  *float64 `json:"overall"`
	Pass     bool     `json:"pass"`
	Feedback string   `json:"feedback"`
	Issues   []string `json:"issues"`
}

// Score returns the overall score, or 0 when there is none.
func (a *Assessment) Score() float64 {
	if a.Overall == nil {
		return 0
	}
	return *a.Overall
}

// Normalize clamps every score into [0,10] and fills Overall from the
// dimensions when the reviewer left it out.
func (a *Assessment) Normalize() {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 10 {
			return 10
		}
		return v
	}
	a.Scores.Completeness = clamp(a.Scores.Completeness)
	a.Scores.Accuracy = clamp(a.Scores.Accuracy)
	a.Scores.Quality = clamp(a.Scores.Quality)
	a.Scores.DomainFit = clamp(a.Scores.DomainFit)
	a.Scores.Value = clamp(a.Scores.Value)
	overall := a.Scores.Mean()
	if a.Overall != nil {
		overall = *a.Overall
	}
	overall = clamp(overall)
	a.Overall = &overall
}
