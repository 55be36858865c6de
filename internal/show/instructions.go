package show

import "fmt"

// DefaultLanguage is the show's default UI language.
const DefaultLanguage = "en"

// globalStyleSuffix is appended to every persona instruction. The [LAUGH]
// tag convention it establishes drives the laughter-cue detector.
const globalStyleSuffix = "\n\nGLOBAL STYLE RULES:\n" +
	"- Lean into roasting, playful rival energy, and sharp humor whenever possible.\n" +
	"- Prefer concise, punchy lines over long explanations.\n" +
	"- If you land a punchline or roast that should get a laugh, end the sentence with the tag [LAUGH]."

// greekLanguageSuffix pins a session to Greek when the show language is "el"
// at connect time.
const greekLanguageSuffix = "\n\nLANGUAGE RULES:\n" +
	"- Always respond in Greek.\n" +
	"- Use natural modern Greek.\n" +
	"- Do not switch to English unless explicitly asked by the host."

// ComposeInstruction builds the full system instruction for an agent
// session: persona text, global style rules, and a language-pinning suffix
// when the show language is non-default.
func ComposeInstruction(p Profile, language string) string {
	instruction := p.Instruction + globalStyleSuffix
	if language == "el" {
		instruction += greekLanguageSuffix
	}
	return instruction
}

// languageSwitchPrompt is broadcast to every connected agent when the show
// language changes mid-show. Returns "" for languages with no pin message.
func languageSwitchPrompt(language string) string {
	switch language {
	case "el":
		return "[SYSTEM] Από εδώ και πέρα απάντα αποκλειστικά στα Ελληνικά. Μην χρησιμοποιείς Αγγλικά."
	case DefaultLanguage:
		return "[SYSTEM] From now on respond exclusively in English."
	default:
		return ""
	}
}

// handoffPrompt builds the relay prompt delivered to the agent taking over
// the turn. hostInstruction and prevSpoken lines are included only when
// non-empty.
func handoffPrompt(hostInstruction, prevSpeaker, prevSpoken, nextName string) string {
	var hostContext, guestContext string
	if hostInstruction != "" {
		hostContext = fmt.Sprintf("[Host said]: %q\n\n", hostInstruction)
	}
	if prevSpoken != "" {
		guestContext = fmt.Sprintf("[%s said]: %q\n\n", prevSpeaker, prevSpoken)
	}
	return fmt.Sprintf("%s%sNow it's your turn, %s. Respond naturally. Keep it under 25 seconds.",
		hostContext, guestContext, nextName)
}

// resumePrompt builds the prompt sent to the active agent after its session
// reconnected mid-turn.
func resumePrompt(hostInstruction, prevSpoken string) string {
	var hostContext, guestContext string
	if hostInstruction != "" {
		hostContext = fmt.Sprintf("[Host said]: %q\n\n", hostInstruction)
	}
	if prevSpoken != "" {
		guestContext = fmt.Sprintf("[Prev context]: %q\n\n", prevSpoken)
	}
	return hostContext + guestContext + "You got disconnected. Resume your turn with a concise response."
}

// hostMessagePrompt wraps a moderator text message for direct delivery to
// the active agent.
func hostMessagePrompt(message string) string {
	return fmt.Sprintf("[Host said]: %q", message)
}
