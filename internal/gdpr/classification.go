package gdpr

// Class is the sensitivity class of a data field.
type Class string

// Sensitivity classes.
const (
	// ClassPublic fields pass through unfiltered.
	ClassPublic Class = "public"

	// ClassSensitive fields are visible to the owner, admins and
	// subjects holding a consent grant from the owner.
	ClassSensitive Class = "sensitive"

	// ClassRestricted fields are visible to the owner and admins only.
	// Consent grants do not apply.
	ClassRestricted Class = "restricted"
)

// Classification maps field names to their sensitivity class. It is
// built once at startup and never mutated at request time.
type Classification map[string]Class

// NewClassification builds a classification from configured field
// classes. Unknown class strings were rejected at config validation.
func NewClassification(fields map[string]string) Classification {
	c := make(Classification, len(fields))
	for field, class := range fields {
		c[field] = Class(class)
	}
	return c
}

// Lookup returns the class for a field and whether it is classified.
func (c Classification) Lookup(field string) (Class, bool) {
	class, ok := c[field]
	return class, ok
}
