package findings

// Tradition identifies one of the supported medical knowledge systems
type Tradition string

const (
	TraditionAvicenna Tradition = "AVICENNA"
	TraditionTCM      Tradition = "TCM"
	TraditionAyurveda Tradition = "AYURVEDA"
)

// Traditions lists all supported traditions in canonical order
func Traditions() []Tradition {
	return []Tradition{TraditionAvicenna, TraditionTCM, TraditionAyurveda}
}

// AnalysisKind identifies the biosignal an image or record was taken from
type AnalysisKind string

const (
	KindTongue AnalysisKind = "tongue"
	KindEye    AnalysisKind = "eye"
	KindFace   AnalysisKind = "face"
	KindSkin   AnalysisKind = "skin"
	KindPulse  AnalysisKind = "pulse"
	KindUrine  AnalysisKind = "urine"
)

// ImageKinds lists the kinds that accept image uploads
func ImageKinds() []AnalysisKind {
	return []AnalysisKind{KindTongue, KindEye, KindFace, KindSkin}
}

// ParseKind validates a kind string
func ParseKind(s string) (AnalysisKind, bool) {
	switch AnalysisKind(s) {
	case KindTongue, KindEye, KindFace, KindSkin, KindPulse, KindUrine:
		return AnalysisKind(s), true
	}
	return "", false
}

// Attribute names one observable feature within an analysis kind
type Attribute string

const (
	AttrColor       Attribute = "color"
	AttrCoating     Attribute = "coating"
	AttrMoisture    Attribute = "moisture"
	AttrCracks      Attribute = "cracks"
	AttrShape       Attribute = "shape"
	AttrScleraColor Attribute = "sclera_color"
	AttrLuster      Attribute = "luster"
	AttrDryness     Attribute = "dryness"
	AttrDischarge   Attribute = "discharge"
	AttrPuffiness   Attribute = "puffiness"
	AttrTexture     Attribute = "texture"
	AttrLesions     Attribute = "lesions"
	AttrTemperature Attribute = "temperature"
	AttrRate        Attribute = "rate"
	AttrStrength    Attribute = "strength"
	AttrQuality     Attribute = "quality"
	AttrOdor        Attribute = "odor"
	AttrSediment    Attribute = "sediment"

	// Constitutional signals inferred alongside the visual features
	AttrMizaj Attribute = "mizaj"
	AttrDosha Attribute = "dosha"
)

// constitutional domains shared by every kind
var mizajDomain = []string{"garm_tar", "garm_khoshk", "sard_tar", "sard_khoshk"}
var doshaDomain = []string{"vata", "pitta", "kapha", "vata_pitta", "pitta_kapha", "vata_kapha", "tridosha"}

// kindDomains fixes the closed attribute/value domains per analysis kind.
// An attribute absent from a bag is unknown; a value outside its domain is
// lowered to unknown at the extraction boundary, never stored.
var kindDomains = map[AnalysisKind]map[Attribute][]string{
	KindTongue: {
		AttrColor:    {"pale", "pink", "red", "crimson", "purple", "dark"},
		AttrCoating:  {"none", "thin_white", "thick_white", "yellow", "greasy", "peeled"},
		AttrMoisture: {"dry", "normal", "wet"},
		AttrCracks:   {"true", "false"},
		AttrShape:    {"normal", "swollen", "thin", "stiff", "deviated"},
	},
	KindEye: {
		AttrScleraColor: {"white", "yellow", "red", "pale"},
		AttrLuster:      {"bright", "dull"},
		AttrDryness:     {"dry", "normal", "moist"},
		AttrDischarge:   {"none", "watery", "thick"},
	},
	KindFace: {
		AttrColor:     {"normal", "pale", "red", "yellow", "dark"},
		AttrLuster:    {"bright", "dull"},
		AttrPuffiness: {"none", "mild", "marked"},
	},
	KindSkin: {
		AttrColor:       {"normal", "pale", "yellow", "red", "dark"},
		AttrTexture:     {"smooth", "rough", "dry", "oily"},
		AttrLesions:     {"none", "rash", "acne", "eczema"},
		AttrTemperature: {"cool", "normal", "warm", "hot"},
	},
	KindPulse: {
		AttrRate:     {"slow", "normal", "rapid"},
		AttrStrength: {"weak", "moderate", "strong"},
		AttrQuality:  {"wiry", "slippery", "thready", "floating", "deep", "choppy"},
	},
	KindUrine: {
		AttrColor:    {"pale", "yellow", "dark_yellow", "red", "cloudy"},
		AttrOdor:     {"none", "mild", "strong"},
		AttrSediment: {"none", "some", "marked"},
	},
}

// Domain returns the enumerated value domain of an attribute within a kind.
// The constitutional attributes are valid for every kind.
func Domain(kind AnalysisKind, attr Attribute) ([]string, bool) {
	switch attr {
	case AttrMizaj:
		return mizajDomain, true
	case AttrDosha:
		return doshaDomain, true
	}
	domains, ok := kindDomains[kind]
	if !ok {
		return nil, false
	}
	values, ok := domains[attr]
	return values, ok
}

// Attributes returns all attributes defined for a kind, constitutional
// signals included.
func Attributes(kind AnalysisKind) []Attribute {
	domains, ok := kindDomains[kind]
	if !ok {
		return nil
	}
	out := make([]Attribute, 0, len(domains)+2)
	for attr := range domains {
		out = append(out, attr)
	}
	out = append(out, AttrMizaj, AttrDosha)
	return out
}

// InDomain reports whether a value is inside the attribute's domain for a kind
func InDomain(kind AnalysisKind, attr Attribute, value string) bool {
	values, ok := Domain(kind, attr)
	if !ok {
		return false
	}
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// Bag is a typed closed-domain attribute bag extracted from one biosignal
// analysis. Absent attributes are unknown. A bag is produced once per
// upload and never mutated afterwards.
type Bag struct {
	Kind       AnalysisKind         `json:"kind"`
	Attributes map[Attribute]string `json:"attributes"`
	Confidence float64              `json:"confidence"`

	// Advisory free-form notes from the vision model; never enters matching
	Advisory []string `json:"advisory,omitempty"`
}

// NewBag creates an empty bag for a kind
func NewBag(kind AnalysisKind) Bag {
	return Bag{Kind: kind, Attributes: make(map[Attribute]string)}
}

// Get returns an attribute value; the second return is false for unknown
func (b Bag) Get(attr Attribute) (string, bool) {
	v, ok := b.Attributes[attr]
	return v, ok
}

// Set stores a value if it lies inside the attribute's domain and reports
// whether it was accepted. Out-of-domain values are dropped, not rejected.
func (b Bag) Set(attr Attribute, value string) bool {
	if !InDomain(b.Kind, attr, value) {
		return false
	}
	b.Attributes[attr] = value
	return true
}

// IsEmpty reports whether every attribute is unknown
func (b Bag) IsEmpty() bool {
	return len(b.Attributes) == 0
}

// Validate checks the bag invariant: every present attribute is drawn from
// its kind's enumerated domain and confidence lies in [0,1].
func (b Bag) Validate() error {
	if b.Confidence < 0 || b.Confidence > 1 {
		return &DomainError{Kind: b.Kind, Message: "confidence out of range"}
	}
	for attr, value := range b.Attributes {
		if !InDomain(b.Kind, attr, value) {
			return &DomainError{Kind: b.Kind, Attribute: attr, Value: value, Message: "value outside domain"}
		}
	}
	return nil
}

// DomainError reports a closed-domain violation
type DomainError struct {
	Kind      AnalysisKind
	Attribute Attribute
	Value     string
	Message   string
}

func (e *DomainError) Error() string {
	if e.Attribute == "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind) + "." + string(e.Attribute) + "=" + e.Value + ": " + e.Message
}
