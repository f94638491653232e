package conversation

// Template names recorded in audit metadata.
const (
	TemplateGlobalMenu      = "global.menu"
	TemplateGlobalMenuShort = "global.menu_short"
)

const globalMenu = `Welcome to CoverText! 📋

Reply with:
• CARD - Get your insurance card
• EXPIRING - Check policy expiration dates
• HELP - Show this menu again

What can I help you with today?`

const globalMenuShort = "Reply: CARD, EXPIRING, or HELP"

var templates = map[string]string{
	TemplateGlobalMenu:      globalMenu,
	TemplateGlobalMenuShort: globalMenuShort,
}

// TemplateBody returns the reply text for a template name.
func TemplateBody(name string) (string, bool) {
	body, ok := templates[name]
	return body, ok
}
