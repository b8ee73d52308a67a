package segment

import "strings"

// Category classifies a meeting by its dominant foreground application.
type Category string

const (
	CategoryVideoMeeting Category = "Video Meeting"
	CategoryCoding       Category = "Coding Session"
	CategoryResearch     Category = "Research"
	CategorySession      Category = "Session"
)

// categoryKeywords maps lowercase app-name substrings to categories.
// Tables are checked in order; the first hit wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryVideoMeeting, []string{"zoom", "meet", "teams", "webex", "facetime", "skype", "discord"}},
	{CategoryCoding, []string{"xcode", "code", "terminal", "iterm", "intellij", "goland", "pycharm", "vim", "emacs", "sublime"}},
	{CategoryResearch, []string{"safari", "chrome", "firefox", "edge", "brave", "opera"}},
}

// Classify maps a foreground application name to its category. Empty and
// unknown names are a generic Session.
func Classify(app string) Category {
	if app == "" {
		return CategorySession
	}
	name := strings.ToLower(app)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(name, kw) {
				return entry.category
			}
		}
	}
	return CategorySession
}
