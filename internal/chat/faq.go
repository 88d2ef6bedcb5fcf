package chat

import "strings"

// FAQEntry answers questions containing any of its keywords.
type FAQEntry struct {
	Keywords []string
	Answer   string
}

// DefaultFAQ is the built-in keyword list, checked in order.
var DefaultFAQ = []FAQEntry{
	{
		Keywords: []string{"price", "pricing", "cost", "how much", "fee"},
		Answer:   "Pricing is announced to the waitlist first. Join the waitlist and we'll email you our plans before launch.",
	},
	{
		Keywords: []string{"launch", "when", "available", "release"},
		Answer:   "We're onboarding in waves. Waitlist members get access first, in signup order.",
	},
	{
		Keywords: []string{"waitlist", "sign up", "signup", "join"},
		Answer:   "Enter your email in the waitlist form on the home page. You'll get a confirmation and launch updates.",
	},
	{
		Keywords: []string{"newsletter", "updates", "subscribe"},
		Answer:   "Our newsletter covers tax deadlines, bookkeeping tips and product news. Pick a topic when you subscribe.",
	},
	{
		Keywords: []string{"tax", "filing", "return", "deadline"},
		Answer:   "We prepare and file federal and state business returns, and track your deadlines so nothing is missed.",
	},
	{
		Keywords: []string{"bookkeeping", "books", "reconcile", "accounting"},
		Answer:   "Monthly bookkeeping includes bank reconciliation, categorized transactions and a close report.",
	},
	{
		Keywords: []string{"payroll", "salary", "contractor"},
		Answer:   "Payroll support covers employees and contractors, including year-end forms.",
	},
	{
		Keywords: []string{"privacy", "data", "secure", "security"},
		Answer:   "We only use your email to send what you asked for. See the privacy page for details.",
	},
	{
		Keywords: []string{"contact", "email", "talk", "human", "support"},
		Answer:   "You can reach the team through the contact address on the about page.",
	},
}

// DefaultAnswer is used when nothing matches.
const DefaultAnswer = "I'm not sure about that one. Try asking about pricing, launch timing, the waitlist or our services."

// Match returns the first FAQ answer with a keyword in message.
func Match(faq []FAQEntry, message string) (string, bool) {
	msg := strings.ToLower(message)
	for _, entry := range faq {
		if containsAny(msg, entry.Keywords) {
			return entry.Answer, true
		}
	}
	return "", false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
