package vision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/triveda-health/platform/internal/findings"
)

var kindSubject = map[findings.AnalysisKind]string{
	findings.KindTongue: "a patient's tongue",
	findings.KindEye:    "a patient's eye",
	findings.KindFace:   "a patient's face",
	findings.KindSkin:   "a patient's skin",
}

// systemPrompt instructs the model to emit only the closed-domain schema
// for the given kind. Any value outside the listed domains is dropped
// downstream, so the prompt repeats the domains verbatim.
func systemPrompt(kind findings.AnalysisKind) string {
	subject := kindSubject[kind]
	if subject == "" {
		subject = "a diagnostic photograph"
	}

	var attrLines strings.Builder
	for _, attr := range sortedAttributes(kind) {
		domain, _ := findings.Domain(kind, attr)
		attrLines.WriteString(fmt.Sprintf("- %s: one of [%s]\n", attr, strings.Join(domain, ", ")))
	}

	return fmt.Sprintf(`You are a traditional-medicine diagnostic assistant examining an image of %s.
Report only observable features. For each attribute below, pick exactly one value
from its list, or omit the attribute entirely if it cannot be determined:
%s
Also report:
- confidence: overall confidence in the reported attributes, between 0 and 1
- advisory: optional short free-text observations that do not fit the attributes

Respond with JSON only (no markdown):
{"attributes": {"color": "pale"}, "confidence": 0.8, "advisory": ["..."]}`, subject, attrLines.String())
}

func userPrompt(kind findings.AnalysisKind) string {
	return fmt.Sprintf("Analyze this %s image and report the attributes.", kind)
}

// sortedAttributes returns the kind's attributes in stable order
func sortedAttributes(kind findings.AnalysisKind) []findings.Attribute {
	attrs := findings.Attributes(kind)
	sort.Slice(attrs, func(i, j int) bool { return attrs[i] < attrs[j] })
	return attrs
}
