package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LinkedInProfile is the validated result of a profile rewrite.
type LinkedInProfile struct {
	ProfileOverview struct {
		Score   string `json:"score"   validate:"required"`
		Summary string `json:"summary" validate:"required"`
	} `json:"profileOverview"`
	Headline   Rewrite            `json:"headline"`
	About      Rewrite            `json:"about"`
	Experience []ExperienceRewrite `json:"experience" validate:"dive"`
	Skills     struct {
		Current   []string `json:"current"`
		Optimized []string `json:"optimized" validate:"required,min=1,dive,required"`
	} `json:"skills"`
	SEO struct {
		CurrentKeywords   string `json:"currentKeywords"`
		OptimizedStrategy string `json:"optimizedStrategy" validate:"required"`
	} `json:"seo"`
	Branding   Rewrite  `json:"branding"`
	ActionPlan []string `json:"actionPlan" validate:"required,min=1,max=7,dive,required"`
	FinalNote  string   `json:"finalNote"`
}

// Rewrite pairs the current text of a profile section with its rewrite.
type Rewrite struct {
	Current   string `json:"current"`
	Optimized string `json:"optimized" validate:"required"`
}

// ExperienceRewrite is a Rewrite for one role.
type ExperienceRewrite struct {
	Role      string `json:"role"      validate:"required"`
	Current   string `json:"current"`
	Optimized string `json:"optimized" validate:"required"`
}

var (
	validate = validator.New(validator.WithRequiredStructEnabled())

	// fenceRE captures the body of a ```json fenced block.
	fenceRE = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// parseLinkedInProfile decodes and validates model output. Markdown code
// fences around the object are tolerated; anything else that is not a
// single valid object is an error.
func parseLinkedInProfile(raw string) (*LinkedInProfile, error) {
	s := strings.TrimSpace(raw)
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if s == "" {
		return nil, errors.New("empty profile response")
	}

	dec := json.NewDecoder(strings.NewReader(s))
	var p LinkedInProfile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode profile: trailing data after object")
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("validate profile: %w", err)
	}
	return &p, nil
}
