package domain

import "fmt"

// JoinCase records which branch of the estimation procedure produced a result.
type JoinCase int

const (
	// CaseNone means no rule matched and the size is unknown.
	CaseNone JoinCase = iota
	// CaseDisjoint: R ∩ S is empty, the join is a cross product.
	CaseDisjoint
	// CaseKeyInLeft: R ∩ S is a key of R.
	CaseKeyInLeft
	// CaseForeignKeyReference: R ∩ S is a foreign key of one side referencing the other.
	CaseForeignKeyReference
	// CaseSingleNonKeyAttribute: R ∩ S = {A} and A is not a key of R or S.
	CaseSingleNonKeyAttribute
)

var joinCaseNames = map[JoinCase]string{
	CaseNone:                  "none",
	CaseDisjoint:              "disjoint",
	CaseKeyInLeft:             "key_in_left",
	CaseForeignKeyReference:   "foreign_key_reference",
	CaseSingleNonKeyAttribute: "single_non_key_attribute",
}

func (c JoinCase) String() string {
	if s, ok := joinCaseNames[c]; ok {
		return s
	}
	return fmt.Sprintf("JoinCase(%d)", int(c))
}

// Number is the textbook case number (1-4), or 0 for CaseNone.
func (c JoinCase) Number() int {
	if c < CaseNone || c > CaseSingleNonKeyAttribute {
		return 0
	}
	return int(c)
}

// Description explains the rule behind the case in report form.
func (c JoinCase) Description() string {
	switch c {
	case CaseDisjoint:
		return "Case 1: R ∩ S = ∅, so the estimated join size is r × s."
	case CaseKeyInLeft:
		return "Case 2: R ∩ S is a key for R, so the number of tuples in R ⋈ S is no greater than the number of tuples in S."
	case CaseForeignKeyReference:
		return "Case 3: R ∩ S is a foreign key of one relation referencing the other, so the number of tuples in R ⋈ S is exactly the number of tuples in the referencing relation."
	case CaseSingleNonKeyAttribute:
		return "Case 4: R ∩ S = {A} is not a key for R or S, so the join size is min(n_r × n_s / V(A, R), n_r × n_s / V(A, S))."
	default:
		return "Could not estimate the size of joining these two relations."
	}
}

func (c JoinCase) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *JoinCase) UnmarshalText(text []byte) error {
	for k, v := range joinCaseNames {
		if v == string(text) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown join case %q", text)
}

// ForeignKeyDirection tells which relation held the referencing key in case 3.
type ForeignKeyDirection int

const (
	NoForeignKey ForeignKeyDirection = iota
	// RightReferencesLeft: S has a foreign key over R ∩ S referencing R.
	RightReferencesLeft
	// LeftReferencesRight: R has a foreign key over R ∩ S referencing S.
	LeftReferencesRight
)

func (d ForeignKeyDirection) String() string {
	switch d {
	case RightReferencesLeft:
		return "right_references_left"
	case LeftReferencesRight:
		return "left_references_right"
	default:
		return "none"
	}
}

func (d ForeignKeyDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
