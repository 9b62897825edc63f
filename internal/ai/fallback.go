package ai

import "strings"

// RuleFallback is the last resort in the cascade. It answers only what needs
// no conversation context: greetings, cork material and sustainability
// questions, and contact requests. Everything else gets a neutral ask to
// rephrase, never an invented product answer.
type RuleFallback struct {
	BusinessName string
	ContactInfo  string
}

func (f *RuleFallback) Name() string { return "fallback" }

// Respond returns the canned answer for msg.
func (f *RuleFallback) Respond(msg string) string {
	m := strings.ToLower(strings.TrimSpace(msg))
	name := f.BusinessName
	if name == "" {
		name = "our store"
	}

	switch {
	case strings.Contains(m, "what is cork"), strings.Contains(m, "what's cork"),
		strings.Contains(m, "cork") && (strings.Contains(m, "material") || strings.Contains(m, "made of") || strings.Contains(m, "about cork")):
		return "Cork is the bark of the Cork Oak tree, harvested sustainably without cutting the tree down. The bark regenerates every 9-10 years, and each harvest helps the tree absorb more CO2. It is 100% natural, biodegradable, water-resistant, and durable. What draws you to cork products?"

	case strings.Contains(m, "sustainab"), strings.Contains(m, "eco-friendly"), strings.Contains(m, "environment"):
		return "That is exactly why cork is special. Cork oak trees absorb more CO2 after each harvest, and unlike plastic, cork biodegrades naturally in months. Are you exploring cork for personal use or corporate gifting?"

	case m == "hi", m == "hello", m == "hey":
		return "Welcome to " + name + "! We make premium eco-friendly cork products. Are you looking for retail items, corporate gifts, or HORECA solutions?"

	case strings.Contains(m, "email"), strings.Contains(m, "contact"), strings.Contains(m, "phone"), strings.Contains(m, "whatsapp"):
		if f.ContactInfo != "" {
			return "You can reach us at:\n" + f.ContactInfo + "\n\nHow can I help you today?"
		}
	}

	// Product and pricing questions need context the rules do not have, so
	// they get an honest retry prompt instead of a context-free guess.
	return "I'm having trouble processing your message right now. Could you please rephrase or provide more details about what you're looking for?"
}
