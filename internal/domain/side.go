package domain

// Side is one of the two outcomes of a binary market. It is deliberately a
// dedicated type rather than a bool so that ledger fields and detector
// tie-break logic stay explicit and exhaustive.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Sides lists both sides in a fixed order, for exhaustive iteration.
var Sides = [2]Side{SideYes, SideNo}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}
