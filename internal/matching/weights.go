package matching

import (
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
)

// Fixed per-tradition attribute weights. Attributes outside a tradition's
// table carry no weight, except in the Avicennan system where all other
// attributes share a collective 0.15.
var baseWeights = map[findings.Tradition]map[findings.Attribute]float64{
	findings.TraditionAvicenna: {
		findings.AttrMizaj:    0.30,
		findings.AttrColor:    0.20,
		findings.AttrCoating:  0.20,
		findings.AttrMoisture: 0.15,
	},
	findings.TraditionTCM: {
		findings.AttrColor:    0.30,
		findings.AttrCoating:  0.30,
		findings.AttrMoisture: 0.20,
		findings.AttrShape:    0.20,
	},
	findings.TraditionAyurveda: {
		findings.AttrDosha:    0.30,
		findings.AttrColor:    0.25,
		findings.AttrCoating:  0.25,
		findings.AttrMoisture: 0.20,
	},
}

const avicennaOthersWeight = 0.15

// attributeWeights resolves the effective weight per attribute for one
// bag/record pair. For Avicenna, the collective 0.15 is split evenly over
// the other attributes present in both maps.
func attributeWeights(tradition findings.Tradition, bag findings.Bag, record knowledge.Record) map[findings.Attribute]float64 {
	base := baseWeights[tradition]
	weights := make(map[findings.Attribute]float64, len(bag.Attributes))

	var others []findings.Attribute
	for attr := range bag.Attributes {
		if _, constrained := record.Characteristics[attr]; !constrained {
			continue
		}
		if w, ok := base[attr]; ok {
			weights[attr] = w
		} else if tradition == findings.TraditionAvicenna {
			others = append(others, attr)
		}
	}

	if len(others) > 0 {
		share := avicennaOthersWeight / float64(len(others))
		for _, attr := range others {
			weights[attr] = share
		}
	}
	return weights
}
