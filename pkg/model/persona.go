package model

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultEmotions is the emotional state assigned to a persona that does not
// declare one.
const DefaultEmotions = "Currently you feel calm and friendly."

// Relationship describes how a persona relates to another named agent.
type Relationship struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Persona is the configuration document of an agent. Named fields cover the
// groups every persona shares; anything persona-specific lives in Extra.
type Persona struct {
	Name                  string         `json:"name" yaml:"name"`
	Age                   int            `json:"age,omitempty" yaml:"age"`
	Nationality           string         `json:"nationality,omitempty" yaml:"nationality"`
	CountryOfResidence    string         `json:"country_of_residence,omitempty" yaml:"country_of_residence"`
	Occupation            string         `json:"occupation,omitempty" yaml:"occupation"`
	OccupationDescription string         `json:"occupation_description,omitempty" yaml:"occupation_description"`
	Routines              []string       `json:"routines,omitempty" yaml:"routines"`
	PersonalityTraits     []string       `json:"personality_traits,omitempty" yaml:"personality_traits"`
	ProfessionalInterests []string       `json:"professional_interests,omitempty" yaml:"professional_interests"`
	PersonalInterests     []string       `json:"personal_interests,omitempty" yaml:"personal_interests"`
	Skills                []string       `json:"skills,omitempty" yaml:"skills"`
	Relationships         []Relationship `json:"relationships,omitempty" yaml:"relationships"`

	CurrentDatetime  string   `json:"current_datetime,omitempty" yaml:"current_datetime"`
	CurrentLocation  string   `json:"current_location,omitempty" yaml:"current_location"`
	CurrentContext   []string `json:"current_context,omitempty" yaml:"current_context"`
	CurrentAttention string   `json:"current_attention,omitempty" yaml:"current_attention"`
	CurrentGoals     []string `json:"current_goals,omitempty" yaml:"current_goals"`
	CurrentEmotions  string   `json:"current_emotions,omitempty" yaml:"current_emotions"`

	Extra map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// NewPersona returns a persona with defaults applied.
func NewPersona(name string) *Persona {
	return &Persona{
		Name:            name,
		CurrentEmotions: DefaultEmotions,
	}
}

// Validate checks required fields.
func (p *Persona) Validate() error {
	if p == nil {
		return goerr.Wrap(ErrInvalidPersona, "persona is nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return goerr.Wrap(ErrInvalidPersona, "name is required")
	}
	if p.Age < 0 {
		return goerr.Wrap(ErrInvalidPersona, "age must not be negative", goerr.V("name", p.Name), goerr.V("age", p.Age))
	}
	seen := make(map[string]struct{}, len(p.Relationships))
	for _, r := range p.Relationships {
		if r.Name == "" {
			return goerr.Wrap(ErrInvalidPersona, "relationship without name", goerr.V("name", p.Name))
		}
		if _, ok := seen[r.Name]; ok {
			return goerr.Wrap(ErrInvalidPersona, "duplicate relationship", goerr.V("name", p.Name), goerr.V("other", r.Name))
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// Define sets a scalar configuration value. Known keys update the named
// field; unknown keys are stored in Extra.
func (p *Persona) Define(key string, value any) error {
	switch key {
	case "name":
		return goerr.Wrap(ErrInvalidPersona, "name cannot be redefined")
	case "age":
		v, ok := value.(int)
		if !ok {
			return goerr.Wrap(ErrInvalidPersona, "age must be an integer", goerr.V("value", value))
		}
		p.Age = v
		return nil
	}

	if field := p.scalarField(key); field != nil {
		s, ok := value.(string)
		if !ok {
			return goerr.Wrap(ErrInvalidPersona, "value must be a string", goerr.V("key", key), goerr.V("value", value))
		}
		*field = s
		return nil
	}
	if field := p.listField(key); field != nil {
		items, err := toStrings(value)
		if err != nil {
			return goerr.Wrap(err, "failed to define list", goerr.V("key", key))
		}
		*field = items
		return nil
	}

	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	p.Extra[key] = value
	return nil
}

// DefineGroup appends an entry to a list-valued group. Unknown groups are
// created in Extra as lists.
func (p *Persona) DefineGroup(group string, entry any) error {
	if group == "relationships" {
		r, ok := entry.(Relationship)
		if !ok {
			return goerr.Wrap(ErrInvalidPersona, "relationships group requires a Relationship")
		}
		return p.DefineRelationships([]Relationship{r}, false)
	}
	if field := p.listField(group); field != nil {
		s, ok := entry.(string)
		if !ok {
			return goerr.Wrap(ErrInvalidPersona, "group entry must be a string", goerr.V("group", group), goerr.V("entry", entry))
		}
		*field = append(*field, s)
		return nil
	}
	if p.scalarField(group) != nil || group == "name" || group == "age" {
		return goerr.Wrap(ErrInvalidPersona, "not a list group", goerr.V("group", group))
	}

	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	switch cur := p.Extra[group].(type) {
	case nil:
		p.Extra[group] = []any{entry}
	case []any:
		p.Extra[group] = append(cur, entry)
	default:
		return goerr.Wrap(ErrInvalidPersona, "not a list group", goerr.V("group", group))
	}
	return nil
}

// DefineRelationships merges relationships by name. With replace, the
// existing list is discarded first.
func (p *Persona) DefineRelationships(rels []Relationship, replace bool) error {
	if replace {
		p.Relationships = nil
	}
	for _, r := range rels {
		if r.Name == "" {
			return goerr.Wrap(ErrInvalidPersona, "relationship without name")
		}
		updated := false
		for i := range p.Relationships {
			if p.Relationships[i].Name == r.Name {
				p.Relationships[i].Description = r.Description
				updated = true
				break
			}
		}
		if !updated {
			p.Relationships = append(p.Relationships, r)
		}
	}
	return nil
}

// ClearRelationships removes every relationship.
func (p *Persona) ClearRelationships() {
	p.Relationships = nil
}

// MiniBio returns a one-line summary of the persona.
func (p *Persona) MiniBio() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Age > 0 {
		fmt.Fprintf(&b, " is a %d year old", p.Age)
	} else {
		b.WriteString(" is a")
	}
	if p.Occupation != "" {
		fmt.Fprintf(&b, " %s", p.Occupation)
	} else {
		b.WriteString(" person")
	}
	if p.Nationality != "" {
		fmt.Fprintf(&b, ", %s", p.Nationality)
	}
	if p.CountryOfResidence != "" {
		fmt.Fprintf(&b, ", currently living in %s", p.CountryOfResidence)
	}
	b.WriteString(".")
	if len(p.PersonalityTraits) > 0 {
		fmt.Fprintf(&b, " Traits: %s.", strings.Join(p.PersonalityTraits, ", "))
	}
	return b.String()
}

// Clone returns a deep copy.
func (p *Persona) Clone() *Persona {
	c := *p
	c.Routines = cloneStrings(p.Routines)
	c.PersonalityTraits = cloneStrings(p.PersonalityTraits)
	c.ProfessionalInterests = cloneStrings(p.ProfessionalInterests)
	c.PersonalInterests = cloneStrings(p.PersonalInterests)
	c.Skills = cloneStrings(p.Skills)
	c.CurrentContext = cloneStrings(p.CurrentContext)
	c.CurrentGoals = cloneStrings(p.CurrentGoals)
	if p.Relationships != nil {
		c.Relationships = append([]Relationship(nil), p.Relationships...)
	}
	if p.Extra != nil {
		c.Extra = make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

func (p *Persona) scalarField(key string) *string {
	switch key {
	case "nationality":
		return &p.Nationality
	case "country_of_residence":
		return &p.CountryOfResidence
	case "occupation":
		return &p.Occupation
	case "occupation_description":
		return &p.OccupationDescription
	case "current_datetime":
		return &p.CurrentDatetime
	case "current_location":
		return &p.CurrentLocation
	case "current_attention":
		return &p.CurrentAttention
	case "current_emotions":
		return &p.CurrentEmotions
	}
	return nil
}

func (p *Persona) listField(key string) *[]string {
	switch key {
	case "routines":
		return &p.Routines
	case "personality_traits":
		return &p.PersonalityTraits
	case "professional_interests":
		return &p.ProfessionalInterests
	case "personal_interests":
		return &p.PersonalInterests
	case "skills":
		return &p.Skills
	case "current_context":
		return &p.CurrentContext
	case "current_goals":
		return &p.CurrentGoals
	}
	return nil
}

func toStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return cloneStrings(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, goerr.Wrap(ErrInvalidPersona, "list item must be a string", goerr.V("item", item))
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{v}, nil
	}
	return nil, goerr.Wrap(ErrInvalidPersona, "value must be a list of strings", goerr.V("value", value))
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
