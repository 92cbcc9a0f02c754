package flow

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Offer is the configuration for one intake conversation: the ordered states,
// optional extra fields and the precomputed objection rebuttals.
type Offer struct {
	ID          string            `yaml:"id" validate:"required"`
	Type        string            `yaml:"type"`
	States      []State           `yaml:"states" validate:"required,min=1,dive"`
	ExtraFields []FieldDescriptor `yaml:"extra_fields" validate:"dive"`
	Objections  []ObjectionEntry  `yaml:"objections" validate:"dive"`
}

// ObjectionEntry is a precomputed rebuttal. An empty Field applies to every
// pending field for the subtype.
type ObjectionEntry struct {
	Subtype string            `yaml:"subtype" validate:"required"`
	Field   string            `yaml:"field"`
	Text    string            `yaml:"text" validate:"required"`
	Tones   map[string]string `yaml:"tones"`
}

// LoadOffer reads and validates an offer definition from a YAML file.
func LoadOffer(path string) (*Offer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read offer file: %w", err)
	}
	return ParseOffer(data)
}

// ParseOffer decodes and validates an offer definition.
func ParseOffer(data []byte) (*Offer, error) {
	var offer Offer
	if err := yaml.Unmarshal(data, &offer); err != nil {
		return nil, fmt.Errorf("parse offer yaml: %w", err)
	}
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	return &offer, nil
}

// Validate checks struct constraints, then the cross-field rules the
// transition engine relies on.
func (o *Offer) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("validate offer: %w", err)
	}

	if _, err := NewEngine(o.States, o.ExtraFields, slog.Default()); err != nil {
		return fmt.Errorf("validate offer: %w", err)
	}

	universe := NewUniverse(o.Fields()...)
	for _, obj := range o.Objections {
		if obj.Field != "" && !universe.Contains(obj.Field) {
			return fmt.Errorf("validate offer: objection %q references unknown field %q", obj.Subtype, obj.Field)
		}
	}
	return nil
}

// Fields returns every field the offer knows about, states first.
func (o *Offer) Fields() []FieldDescriptor {
	var out []FieldDescriptor
	for _, st := range o.States {
		out = append(out, st.Fields...)
	}
	return append(out, o.ExtraFields...)
}

// Engine builds the TransitionEngine for the offer.
func (o *Offer) Engine(logger *slog.Logger) (*Engine, error) {
	return NewEngine(o.States, o.ExtraFields, logger)
}
