package domain

import "time"

// UnknownSize is the estimated size reported when no case applies.
const UnknownSize int64 = -1

// EstimationResult is the outcome of one estimation call. It is built once
// and never modified.
type EstimationResult struct {
	Left          string     `json:"left" yaml:"left"`
	Right         string     `json:"right" yaml:"right"`
	EstimatedSize int64      `json:"estimated_size" yaml:"estimated_size"`
	Case          JoinCase   `json:"case" yaml:"case"`
	Diagnostic    Diagnostic `json:"diagnostic" yaml:"diagnostic"`
}

// Diagnostic holds the statistics the estimate was derived from.
type Diagnostic struct {
	LeftRows         int64               `json:"left_rows" yaml:"left_rows"`
	RightRows        int64               `json:"right_rows" yaml:"right_rows"`
	SharedAttributes []string            `json:"shared_attributes" yaml:"shared_attributes"`
	ForeignKey       ForeignKeyDirection `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`

	// Set only for CaseSingleNonKeyAttribute.
	LeftDistinct  int64  `json:"left_distinct,omitempty" yaml:"left_distinct,omitempty"`
	RightDistinct int64  `json:"right_distinct,omitempty" yaml:"right_distinct,omitempty"`
	LeftFanOut    FanOut `json:"left_fan_out,omitempty" yaml:"left_fan_out,omitempty"`
	RightFanOut   FanOut `json:"right_fan_out,omitempty" yaml:"right_fan_out,omitempty"`
}

// Classified reports whether one of the four cases produced the estimate.
func (r EstimationResult) Classified() bool {
	return r.Case != CaseNone
}

// Err returns ErrUnclassified for a CaseNone result and nil otherwise.
func (r EstimationResult) Err() error {
	if !r.Classified() {
		return ErrUnclassified
	}
	return nil
}

// Comparison pairs an estimate with the size of actually running the join.
type Comparison struct {
	RunID  string           `json:"run_id" yaml:"run_id"`
	Result EstimationResult `json:"result" yaml:"result"`

	// ActualSize is UnknownSize when the real join was not executed.
	ActualSize int64 `json:"actual_size" yaml:"actual_size"`
	// PlannerSize is the database planner's own row estimate, or UnknownSize.
	PlannerSize int64         `json:"planner_size" yaml:"planner_size"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// EstimationError is estimate minus actual. ok is false when either side is unknown.
func (c Comparison) EstimationError() (diff int64, ok bool) {
	if !c.Result.Classified() || c.ActualSize == UnknownSize {
		return 0, false
	}
	return c.Result.EstimatedSize - c.ActualSize, true
}
