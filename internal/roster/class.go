package roster

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"classledger/internal/apperr"
)

// Class identifies a batch/level/term/section grouping.
type Class struct {
	Batch   string `json:"batch" bson:"batch" validate:"required,max=64,excludes=_"`
	Level   string `json:"level" bson:"level" validate:"required,max=64,excludes=_"`
	Term    string `json:"term" bson:"term" validate:"required,max=64,excludes=_"`
	Section string `json:"section" bson:"section" validate:"required,max=64,excludes=_"`
}

// Key is the single ClassKey producer: {batch}_{level}_{term}_{section}.
func (c Class) Key() string {
	return c.Batch + "_" + c.Level + "_" + c.Term + "_" + c.Section
}

// ParseKey is the inverse of Class.Key.
func ParseKey(key string) (Class, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 4 {
		return Class{}, apperr.Invalid("class key must have four components").WithDetail(key)
	}
	c := Class{Batch: parts[0], Level: parts[1], Term: parts[2], Section: parts[3]}
	if err := ValidateClass(c); err != nil {
		return Class{}, err
	}
	return c, nil
}

// Tuple is the class identity an advisor is assigned to.
type Tuple struct {
	Class      `bson:",inline"`
	Department string `json:"department" bson:"department" validate:"required,max=64"`
}

// ID renders the tuple as a stable string, department first.
func (t Tuple) ID() string { return t.Department + "/" + t.Key() }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateClass rejects empty components and components that would make the
// key ambiguous.
func ValidateClass(c Class) error {
	return structError(validatorInstance().Struct(c))
}

// ValidateTuple validates the class and the department scope.
func ValidateTuple(t Tuple) error {
	return structError(validatorInstance().Struct(t))
}

func structError(err error) error {
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		return apperr.Invalid("invalid class field").WithDetail(strings.ToLower(f.Field()) + ":" + f.Tag())
	}
	return apperr.Wrap(apperr.KindInvalid, err, "invalid class")
}

// NormalizeRoll canonicalizes a roll identifier for comparison.
func NormalizeRoll(roll string) string {
	return strings.ToUpper(strings.TrimSpace(roll))
}
