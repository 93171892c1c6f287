package reporting

import (
	"fmt"
	"strings"
)

// Certification identifies the certification family a quiz prepares for.
type Certification string

const (
	CertificationNone         Certification = ""
	CertificationCISSP        Certification = "cissp"
	CertificationSecurityPlus Certification = "security_plus"
	CertificationCEH          Certification = "ceh"
	CertificationCISM         Certification = "cism"
	CertificationCCNA         Certification = "ccna"
	CertificationAWS          Certification = "aws"
	CertificationAzure        Certification = "azure"
)

var certificationTips = map[Certification]string{
	CertificationCISSP:        "CISSP tip: think like a manager, not a technician. When two answers look right, pick the one that addresses risk and governance first.",
	CertificationSecurityPlus: "Security+ tip: the exam leans on performance-based questions. Practise configuring firewalls, reading logs and matching attacks to mitigations.",
	CertificationCEH:          "CEH tip: memorise the phases of ethical hacking and the tools used in each, then rehearse them in a lab environment.",
	CertificationCISM:         "CISM tip: anchor every answer in business alignment. Information security governance questions reward the option that supports organisational objectives.",
	CertificationCCNA:         "CCNA tip: subnetting speed matters. Drill address calculations daily and practise device configuration in a simulator.",
	CertificationAWS:          "AWS tip: review the Well-Architected Framework pillars and know which managed service fits each scenario.",
	CertificationAzure:        "Azure tip: focus on identity, governance and cost management, and get hands-on with the portal and CLI.",
}

// certificationKeywords is scanned in order; the first match wins.
var certificationKeywords = []struct {
	keyword string
	cert    Certification
}{
	{"cissp", CertificationCISSP},
	{"security+", CertificationSecurityPlus},
	{"security plus", CertificationSecurityPlus},
	{"ceh", CertificationCEH},
	{"cism", CertificationCISM},
	{"ccna", CertificationCCNA},
	{"aws", CertificationAWS},
	{"azure", CertificationAzure},
}

// Valid reports whether c is a known certification family or none.
func (c Certification) Valid() bool {
	if c == CertificationNone {
		return true
	}
	_, ok := certificationTips[c]
	return ok
}

// DetectCertification derives a certification family from a quiz title.
// It is only used when a quiz is created without an explicit family.
func DetectCertification(title string) Certification {
	lower := strings.ToLower(title)
	for _, k := range certificationKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.cert
		}
	}
	return CertificationNone
}

// Score brackets for the opening remark, checked in order.
var scoreRemarks = []struct {
	below  int
	remark string
}{
	{60, "Your result shows there is significant ground to cover. Revisit the fundamentals of each topic and retake the quiz once you have reviewed the material."},
	{75, "You have a working foundation, but several topics need more attention. Concentrate your study time on the areas listed below."},
	{90, "Good performance. Some targeted review will make your knowledge solid across every topic."},
}

const topScoreRemark = "Excellent work. You have a strong command of this material; keep it fresh with periodic practice."

func openingRemark(score int) string {
	for _, r := range scoreRemarks {
		if score < r.below {
			return r.remark
		}
	}
	return topScoreRemark
}

// quizRecommendations composes the recommendation block: opening remark,
// the worst weak areas as bullets, then the certification study tip.
func quizRecommendations(score int, weak []WeakArea, cert Certification) string {
	parts := []string{openingRemark(score)}

	if len(weak) > 0 {
		var b strings.Builder
		b.WriteString("Focus areas:")
		for i, w := range weak {
			if i == maxWeakAreaBullets {
				break
			}
			fmt.Fprintf(&b, "\n• %s: %d of %d answered incorrectly (%d%% correct)",
				w.Category, w.WrongCount, w.TotalCount, w.Percentage)
		}
		parts = append(parts, b.String())
	}

	if tip, ok := certificationTips[cert]; ok {
		parts = append(parts, tip)
	}
	return strings.Join(parts, "\n\n")
}
