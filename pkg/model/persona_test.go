package model_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/model"
)

func TestPersonaValidate(t *testing.T) {
	testCases := []struct {
		name    string
		persona *model.Persona
		wantErr bool
	}{
		{"valid", model.NewPersona("Lisa"), false},
		{"nil", nil, true},
		{"empty name", model.NewPersona("  "), true},
		{"negative age", &model.Persona{Name: "Oscar", Age: -1}, true},
		{"duplicate relationship", &model.Persona{Name: "Oscar", Relationships: []model.Relationship{
			{Name: "Lisa", Description: "colleague"},
			{Name: "Lisa", Description: "friend"},
		}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.persona.Validate()
			if tc.wantErr {
				gt.Error(t, err)
				gt.True(t, errors.Is(err, model.ErrInvalidPersona))
			} else {
				gt.NoError(t, err)
			}
		})
	}
}

func TestPersonaDefine(t *testing.T) {
	p := model.NewPersona("Lisa")
	gt.Equal(t, p.CurrentEmotions, model.DefaultEmotions)

	gt.NoError(t, p.Define("age", 28))
	gt.NoError(t, p.Define("occupation", "Data Scientist"))
	gt.NoError(t, p.Define("skills", []any{"Python", "statistics"}))
	gt.NoError(t, p.Define("favorite_color", "green"))

	gt.Equal(t, p.Age, 28)
	gt.Equal(t, p.Occupation, "Data Scientist")
	gt.A(t, p.Skills).Length(2)
	gt.Equal(t, p.Extra["favorite_color"], any("green"))

	gt.Error(t, p.Define("name", "Other"))
	gt.Error(t, p.Define("age", "old"))
	gt.Error(t, p.Define("occupation", 1))
}

func TestPersonaDefineGroup(t *testing.T) {
	p := model.NewPersona("Lisa")

	gt.NoError(t, p.DefineGroup("personality_traits", "curious"))
	gt.NoError(t, p.DefineGroup("personality_traits", "patient"))
	gt.Equal(t, p.PersonalityTraits, []string{"curious", "patient"})

	gt.NoError(t, p.DefineGroup("hobbies", "hiking"))
	gt.NoError(t, p.DefineGroup("hobbies", "chess"))
	gt.Equal(t, p.Extra["hobbies"], any([]any{"hiking", "chess"}))

	gt.NoError(t, p.DefineGroup("relationships", model.Relationship{Name: "Oscar", Description: "colleague"}))
	gt.A(t, p.Relationships).Length(1)

	gt.Error(t, p.DefineGroup("occupation", "x"))
	gt.NoError(t, p.Define("pet", "cat"))
	gt.Error(t, p.DefineGroup("pet", "dog"))
}

func TestPersonaRelationships(t *testing.T) {
	p := model.NewPersona("Lisa")
	gt.NoError(t, p.DefineRelationships([]model.Relationship{
		{Name: "Oscar", Description: "colleague"},
		{Name: "Marcos", Description: "neighbor"},
	}, false))
	gt.NoError(t, p.DefineRelationships([]model.Relationship{
		{Name: "Oscar", Description: "close friend"},
	}, false))

	gt.A(t, p.Relationships).Length(2)
	gt.Equal(t, p.Relationships[0].Description, "close friend")

	gt.NoError(t, p.DefineRelationships([]model.Relationship{{Name: "Ana", Description: "sister"}}, true))
	gt.A(t, p.Relationships).Length(1)

	p.ClearRelationships()
	gt.A(t, p.Relationships).Length(0)
}

func TestPersonaCloneIsDeep(t *testing.T) {
	p := model.NewPersona("Lisa")
	p.Skills = []string{"Go"}
	p.Extra = map[string]any{"k": "v"}

	c := p.Clone()
	c.Skills[0] = "Rust"
	c.Extra["k"] = "changed"

	gt.Equal(t, p.Skills[0], "Go")
	gt.Equal(t, p.Extra["k"], any("v"))
}

func TestPersonaMiniBio(t *testing.T) {
	p := model.NewPersona("Oscar")
	p.Age = 30
	p.Occupation = "architect"
	p.Nationality = "German"
	p.PersonalityTraits = []string{"detail oriented"}

	bio := p.MiniBio()
	gt.S(t, bio).Contains("Oscar is a 30 year old architect")
	gt.S(t, bio).Contains("German")
	gt.S(t, bio).Contains("detail oriented")
}
