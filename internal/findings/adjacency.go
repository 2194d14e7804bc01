package findings

// Adjacency declares which enumerated values count as near-misses during
// matching. The tongue color chain is canonical:
// pale - pink - red - crimson - purple - dark, each color adjacent only to
// its chain neighbors.
var adjacency = map[Attribute][][2]string{
	AttrColor: {
		{"pale", "pink"},
		{"pink", "red"},
		{"red", "crimson"},
		{"crimson", "purple"},
		{"purple", "dark"},
	},
	AttrCoating: {
		{"thin_white", "thick_white"},
		{"thick_white", "greasy"},
		{"yellow", "greasy"},
	},
	AttrMoisture: {
		{"dry", "normal"},
		{"normal", "wet"},
	},
	AttrRate: {
		{"slow", "normal"},
		{"normal", "rapid"},
	},
	AttrStrength: {
		{"weak", "moderate"},
		{"moderate", "strong"},
	},
	AttrPuffiness: {
		{"none", "mild"},
		{"mild", "marked"},
	},
	AttrSediment: {
		{"none", "some"},
		{"some", "marked"},
	},
}

// Adjacent reports whether two values of an attribute are declared adjacent.
// The relation is symmetric and irreflexive.
func Adjacent(attr Attribute, a, b string) bool {
	if a == b {
		return false
	}
	for _, pair := range adjacency[attr] {
		if (pair[0] == a && pair[1] == b) || (pair[0] == b && pair[1] == a) {
			return true
		}
	}
	return false
}
