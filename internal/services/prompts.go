package services

import (
	"fmt"
	"strings"

	"github.com/tbourn/devlift/internal/source"
)

const readmeSystemPrompt = "You are an expert open source README generator."

const linkedinSystemPrompt = "You are an expert LinkedIn optimization consultant. " +
	"Respond with valid JSON only. Use only facts present in the provided content."

// readmeSections lists what a generated README should cover when applicable.
var readmeSections = []string{
	"Project title and short description",
	"Table of contents",
	"Features",
	"Technologies used",
	"Installation",
	"Usage",
	"Screenshots (markdown image links where useful)",
	"Contributing",
	"License",
	"Contact",
}

func readmePrompt(owner, repo string, files []source.File, maxFileRunes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a new, complete README.md for the GitHub repository %q owned by %q.\n", repo, owner)
	b.WriteString("Include these sections where they apply:\n")
	for _, s := range readmeSections {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	b.WriteString("\nDo not critique or review the existing material. Rewrite from scratch, ")
	b.WriteString("using only facts found in the project files below. Return markdown only.\n\n")

	if len(files) == 0 {
		b.WriteString("No significant file content was found.\n")
		return b.String()
	}
	for _, f := range files {
		fmt.Fprintf(&b, "### %s\n\n```\n%s\n```\n\n", f.Path, clipRunes(f.Content, maxFileRunes))
	}
	return b.String()
}

func resumePrompt(in ResumeInput, repos []source.Repo) string {
	var b strings.Builder
	b.WriteString("Act as a senior technical recruiter. Using only the data below, write a one-page ")
	b.WriteString("developer resume in plain text.\n\n")
	fmt.Fprintf(&b, "Name: %s\n", in.Name)
	if in.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", in.Email)
	}
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	fmt.Fprintf(&b, "Skills: %s\n\n", strings.Join(in.Skills, ", "))

	b.WriteString("Top GitHub projects:\n")
	if len(repos) == 0 {
		b.WriteString("- none listed\n")
	}
	for _, r := range repos {
		desc := r.Description
		if desc == "" {
			desc = "No description"
		}
		lang := r.Language
		if lang == "" {
			lang = "Unknown"
		}
		fmt.Fprintf(&b, "- %s: %s (%s, %d stars)\n", r.Name, desc, lang, r.Stars)
	}
	b.WriteString("\nReturn only the resume text, without notes or commentary.\n")
	return b.String()
}

func linkedinPrompt(profileText string) string {
	var b strings.Builder
	b.WriteString("Analyze the LinkedIn profile below and rewrite it for impact and discoverability.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use only information present in the profile; write \"Not provided\" for absent sections.\n")
	b.WriteString("- For every section give the complete current text and a complete optimized rewrite ready to paste.\n")
	b.WriteString("- Rewrite directly instead of giving generic advice.\n")
	b.WriteString("- Respond with one minified JSON object and nothing else.\n\n")
	b.WriteString("PROFILE:\n")
	b.WriteString(profileText)
	b.WriteString("\n\nJSON shape:\n")
	b.WriteString(`{"profileOverview":{"score":"X/10","summary":"2-3 line assessment"},`)
	b.WriteString(`"headline":{"current":"...","optimized":"..."},`)
	b.WriteString(`"about":{"current":"...","optimized":"..."},`)
	b.WriteString(`"experience":[{"role":"Title at Company","current":"...","optimized":"..."}],`)
	b.WriteString(`"skills":{"current":["..."],"optimized":["..."]},`)
	b.WriteString(`"seo":{"currentKeywords":"...","optimizedStrategy":"..."},`)
	b.WriteString(`"branding":{"current":"...","optimized":"..."},`)
	b.WriteString(`"actionPlan":["up to 7 changes, most impactful first"],`)
	b.WriteString(`"finalNote":"short encouraging note"}`)
	b.WriteByte('\n')
	return b.String()
}

// clipRunes truncates s to at most n runes. n <= 0 disables clipping.
func clipRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n…(truncated)"
}
