package ai

import (
	"fmt"
	"strings"
)

// systemPrompt constructs the system prompt for the request's action.
func systemPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("You are an email assistant working inside a mail client. ")
	sb.WriteString("Answer with an HTML fragment only: no <html> or <body> ")
	sb.WriteString("wrapper, no Markdown, no code fences.\n\n")

	switch req.Action {
	case ActionSummarize:
		sb.WriteString("Summarize the email in at most five short bullet ")
		sb.WriteString("points as a <ul>. Mention deadlines, amounts and ")
		sb.WriteString("requested actions explicitly.\n")
	case ActionReply:
		sb.WriteString("Write a reply to the email on behalf of the user. ")
		sb.WriteString("Do not include a signature or a subject line.\n")
	case ActionRewrite:
		sb.WriteString("Rewrite the user's draft so it reads clearly and ")
		sb.WriteString("professionally. Keep every fact and commitment; do ")
		sb.WriteString("not add new ones.\n")
	case ActionTasks:
		sb.WriteString("Extract the concrete tasks the email asks of the ")
		sb.WriteString("user as an <ol>. Include owner and due date when ")
		sb.WriteString("stated. If there are none, say so in one sentence.\n")
	}

	if req.Locale != "" {
		fmt.Fprintf(&sb, "Write in the language for locale %q.\n", req.Locale)
	}
	if req.Tone != "" {
		fmt.Fprintf(&sb, "Use a %s tone.\n", req.Tone)
	}

	return sb.String()
}

// buildUserPrompt assembles the user message from the request's context.
func buildUserPrompt(req Request) (string, error) {
	var sb strings.Builder

	switch req.Action {
	case ActionRewrite:
		text := strings.TrimSpace(req.RawText)
		if text == "" {
			return "", fmt.Errorf("rewrite: nothing to rewrite")
		}
		sb.WriteString("Draft to rewrite:\n")
		sb.WriteString(text)
		sb.WriteString("\n")
		if ctx := strings.TrimSpace(req.EmailContext); ctx != "" {
			sb.WriteString("\nEmail being answered, for context:\n")
			sb.WriteString(ctx)
			sb.WriteString("\n")
		}
	default:
		ctx := strings.TrimSpace(req.EmailContext)
		if ctx == "" {
			return "", fmt.Errorf("%s: email has no text", req.Action)
		}
		sb.WriteString("Email:\n")
		sb.WriteString(ctx)
		sb.WriteString("\n")
	}

	if req.Template != "" {
		fmt.Fprintf(&sb, "\nFollow the %q template.\n", req.Template)
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		sb.WriteString("\nUser notes:\n")
		sb.WriteString(notes)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
