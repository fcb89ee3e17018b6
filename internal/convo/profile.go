package convo

import (
	"strings"

	"github.com/valueplus/salespipe/internal/models"
)

const unknownProfileValue = "לא ידוע"

var nameMarkers = []string{"קוראים", "שמי", "אני"}

var (
	maleMarkers   = []string{"אני גבר", "אני בן", "זכר", "גבר"}
	femaleMarkers = []string{"אני אישה", "אני בת", "נקבה", "אישה"}
)

// ExtractCustomerName derives a display name for the summary record. The
// WhatsApp push name wins when present; otherwise the user's messages are
// scanned for self-introduction markers and the following word is taken as
// the name. Best effort only.
func ExtractCustomerName(c *models.Customer) string {
	if c.PushName != "" {
		return c.PushName
	}
	for _, m := range c.Messages {
		if m.Role != models.RoleUser {
			continue
		}
		words := strings.Fields(m.Content)
		for i, word := range words {
			for _, marker := range nameMarkers {
				if word == marker && i+1 < len(words) {
					return words[i+1]
				}
			}
		}
	}
	return unknownProfileValue
}

// DetectCustomerGender scans the user's messages for gender self-references.
// Best effort only.
func DetectCustomerGender(c *models.Customer) string {
	for _, m := range c.Messages {
		if m.Role != models.RoleUser {
			continue
		}
		lowered := strings.ToLower(m.Content)
		for _, marker := range maleMarkers {
			if strings.Contains(lowered, marker) {
				return "זכר"
			}
		}
		for _, marker := range femaleMarkers {
			if strings.Contains(lowered, marker) {
				return "נקבה"
			}
		}
	}
	return unknownProfileValue
}
