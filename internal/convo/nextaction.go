package convo

import (
	"fmt"
	"strings"

	"github.com/valueplus/salespipe/internal/models"
)

// readinessPhrases signal the customer is ready to move toward a sale.
var readinessPhrases = []string{
	"אני מעוניין", "אני רוצה", "אני מוכן", "בוא נתקדם", "אוקיי", "בסדר",
	"אני אקנה", "אני אתחיל", "בואו נתחיל", "אני מסכים", "זה נשמע טוב",
}

// missingInfoChecks map keyword pairs to the follow-up question asked when
// neither keyword appears in the conversation.
var missingInfoChecks = []struct {
	keywords []string
	ask      string
}{
	{[]string{"עסק", "מוצר", "שירות"}, "מה בדיוק העסק שלך עושה"},
	{[]string{"מטרה", "מכירה"}, "מה המטרה של הדף - מה אתה רוצה שהלקוחות יעשו"},
	{[]string{"לוגו", "תמונות"}, "איזה חומרים יש לך כבר - לוגו, תמונות"},
	{[]string{"עיצוב", "סגנון"}, "איזה סגנון עיצוב אתה אוהב"},
	{[]string{"מבדיל", "יתרון"}, "מה מבדל אותך מהמתחרים"},
	{[]string{"לקוחות", "גיל"}, "מי הלקוחות שלך - גיל, מגדר, תחומי עניין"},
}

// NextActionReply builds the follow-up sent instead of a closing notice when
// the customer tries to end the conversation before enough business
// information has been collected.
func (p PolicyConfig) NextActionReply(history []models.Message) string {
	if !p.HasSufficientBusinessInfo(history) {
		return fmt.Sprintf("אני רוצה לוודא שאני מבין בדיוק מה אתה צריך. %s", missingBusinessInfo(history))
	}
	if readyToProceed(history) {
		return "מעולה! יש לי תמונה ברורה של מה שאתה צריך. בואו נסגור את זה?"
	}
	return "אני רואה שיש לך עסק מעניין. בואו נדבר קצת יותר על איך הדף הזה יעזור לך להשיג את המטרות שלך."
}

func missingBusinessInfo(history []models.Message) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteString(" ")
	}
	text := b.String()

	var missing []string
	for _, check := range missingInfoChecks {
		covered := false
		for _, kw := range check.keywords {
			if strings.Contains(text, kw) {
				covered = true
				break
			}
		}
		if !covered {
			missing = append(missing, check.ask)
		}
	}

	switch len(missing) {
	case 0:
		return "מעולה! יש לי את כל המידע שאני צריך על העסק שלך."
	case 1:
		return fmt.Sprintf("אני צריך להבין %s.", missing[0])
	case 2:
		return fmt.Sprintf("אני צריך להבין %s ו%s.", missing[0], missing[1])
	default:
		return fmt.Sprintf("אני צריך להבין עוד כמה דברים: %s ו%s.",
			strings.Join(missing[:len(missing)-1], ", "), missing[len(missing)-1])
	}
}

// readyToProceed checks the last few user turns for explicit readiness
// signals.
func readyToProceed(history []models.Message) bool {
	start := len(history) - 4
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		if m.Role != models.RoleUser {
			continue
		}
		lowered := strings.ToLower(m.Content)
		for _, phrase := range readinessPhrases {
			if strings.Contains(lowered, phrase) {
				return true
			}
		}
	}
	return false
}
