// ABOUTME: Operation value type describing one abstract CRUD or method call against the backend
// ABOUTME: Validated with go-playground/validator plus per-kind rules before any RPC is made

package odoo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind is the abstract operation kind.
type Kind string

const (
	KindRead       Kind = "read"
	KindWrite      Kind = "write"
	KindCreate     Kind = "create"
	KindDelete     Kind = "delete"
	KindListModels Kind = "list_models"
	KindCallMethod Kind = "call_method"
)

// Operation is one request to the backend. It is a value object; Execute
// never mutates it.
type Operation struct {
	Kind   Kind           `json:"kind" validate:"required,oneof=read write create delete list_models call_method"`
	Model  string         `json:"model,omitempty" validate:"required_unless=Kind list_models,omitempty,max=128,odoo_model"`
	IDs    []int64        `json:"ids,omitempty" validate:"omitempty,max=1000,dive,gt=0"`
	Fields []string       `json:"fields,omitempty" validate:"omitempty,dive,odoo_field"`
	Domain []any          `json:"domain,omitempty"`
	Values map[string]any `json:"values,omitempty" validate:"omitempty,dive,keys,odoo_field,endkeys"`
	Method string         `json:"method,omitempty" validate:"omitempty,max=128,odoo_method"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
	Limit  int            `json:"limit,omitempty" validate:"gte=0,lte=10000"`
	Offset int            `json:"offset,omitempty" validate:"gte=0"`
	Order  string         `json:"order,omitempty" validate:"omitempty,max=256,odoo_order"`
}

var (
	modelPattern  = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z0-9_]+)*$`)
	fieldPattern  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	methodPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
	orderPattern  = regexp.MustCompile(`(?i)^[a-z_][a-z0-9_.]*( (asc|desc))?(, ?[a-z_][a-z0-9_.]*( (asc|desc))?)*$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	mustRegister(v, "odoo_model", modelPattern)
	mustRegister(v, "odoo_field", fieldPattern)
	mustRegister(v, "odoo_method", methodPattern)
	mustRegister(v, "odoo_order", orderPattern)
	return v
}

func mustRegister(v *validator.Validate, tag string, re *regexp.Regexp) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("registering %s validation: %v", tag, err))
	}
}

// ValidModelName reports whether name is a syntactically valid model name.
func ValidModelName(name string) bool {
	return len(name) <= 128 && modelPattern.MatchString(name)
}

// Validate checks the operation's shape. Errors wrap ErrInvalidOperation.
func (op Operation) Validate() error {
	if err := validate.Struct(op); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOperation, describeValidation(err))
	}

	if err := validateDomain(op.Domain); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOperation, err)
	}

	switch op.Kind {
	case KindRead:
		if len(op.IDs) > 0 && len(op.Domain) > 0 {
			return fmt.Errorf("%w: read takes ids or a domain, not both", ErrInvalidOperation)
		}
	case KindWrite:
		if len(op.IDs) == 0 {
			return fmt.Errorf("%w: write requires at least one record id", ErrInvalidOperation)
		}
		if len(op.Values) == 0 {
			return fmt.Errorf("%w: write requires values", ErrInvalidOperation)
		}
	case KindCreate:
		if len(op.Values) == 0 {
			return fmt.Errorf("%w: create requires values", ErrInvalidOperation)
		}
	case KindDelete:
		if len(op.IDs) == 0 {
			return fmt.Errorf("%w: delete requires at least one record id", ErrInvalidOperation)
		}
	case KindCallMethod:
		if op.Method == "" {
			return fmt.Errorf("%w: call_method requires a method name", ErrInvalidOperation)
		}
	}

	return nil
}

var domainOperators = map[string]bool{"&": true, "|": true, "!": true}

// validateDomain checks the shape of a search domain: each term is a logical
// operator or a [field, operator, value] triple.
func validateDomain(domain []any) error {
	for i, term := range domain {
		switch t := term.(type) {
		case string:
			if !domainOperators[t] {
				return fmt.Errorf("domain term %d: unknown operator %q", i, t)
			}
		case []any:
			if len(t) != 3 {
				return fmt.Errorf("domain term %d: expected [field, operator, value]", i)
			}
			field, ok := t[0].(string)
			if !ok || field == "" {
				return fmt.Errorf("domain term %d: field must be a non-empty string", i)
			}
			if _, ok := t[1].(string); !ok {
				return fmt.Errorf("domain term %d: operator must be a string", i)
			}
		default:
			return fmt.Errorf("domain term %d: unsupported type %T", i, term)
		}
	}
	return nil
}

// TargetModel returns the model the operation acts on, for logging.
func (op Operation) TargetModel() string {
	if op.Kind == KindListModels {
		return modelRegistry
	}
	return op.Model
}

// describeValidation turns validator errors into a short client-facing message.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required", "required_unless":
			msgs = append(msgs, field+" is required")
		case "odoo_model":
			msgs = append(msgs, fmt.Sprintf("invalid model name %q", fe.Value()))
		case "odoo_field", "keys":
			msgs = append(msgs, fmt.Sprintf("invalid field name %q", fe.Value()))
		case "odoo_method":
			msgs = append(msgs, fmt.Sprintf("invalid or private method name %q", fe.Value()))
		case "odoo_order":
			msgs = append(msgs, fmt.Sprintf("invalid order clause %q", fe.Value()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("unknown operation kind %q", fe.Value()))
		case "gt":
			msgs = append(msgs, "record ids must be positive")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
