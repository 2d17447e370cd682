package classifier

import (
	"errors"
	"fmt"
	"strings"
)

// Organ selects which classifier and label table serve a request.
type Organ string

const (
	Brain  Organ = "brain"
	Retina Organ = "retina"
)

// ErrUnknownOrgan reports a selector that names no supported organ.
var ErrUnknownOrgan = errors.New("unknown organ")

// Organs lists every supported organ in a stable order.
func Organs() []Organ {
	return []Organ{Brain, Retina}
}

var labelTables = map[Organ][]string{
	Brain:  {"no_tumor", "glioma", "meningioma", "pituitary"},
	Retina: {"normal", "retina_tumor", "other"},
}

// Labels returns a copy of the ordered label table for organ. The i-th
// label names the i-th logit.
func Labels(organ Organ) []string {
	return append([]string(nil), labelTables[organ]...)
}

// ParseOrgan maps a selector to an Organ. The GUI's "eye" selector is an
// alias for retina.
func ParseOrgan(s string) (Organ, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "brain":
		return Brain, nil
	case "retina", "eye":
		return Retina, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOrgan, s)
	}
}
