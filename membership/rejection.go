package membership

import (
	"fmt"
	"strings"

	"emergentminds.org/covenant/model"
)

// Rejection is the complete list of findings for one refused operation.
type Rejection struct {
	Op     string
	Errors []error
}

func (r *Rejection) Error() string {
	if len(r.Errors) == 1 {
		return fmt.Sprintf("%s rejected: %v", r.Op, r.Errors[0])
	}
	parts := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%s rejected (%d problems): %s", r.Op, len(r.Errors), strings.Join(parts, "; "))
}

func (r *Rejection) Unwrap() []error { return r.Errors }

// RuleIDs lists the rule ID of every structured finding, in order.
func (r *Rejection) RuleIDs() []string {
	var out []string
	for _, e := range model.Flatten(r) {
		out = append(out, e.RuleID)
	}
	return out
}

func reject(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &Rejection{Op: op, Errors: errs}
}

// appendFindings spreads joined errors so each finding is listed once.
func appendFindings(out []error, err error) []error {
	if err == nil {
		return out
	}
	if _, ok := err.(*model.Error); ok {
		return append(out, err)
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range j.Unwrap() {
			out = appendFindings(out, inner)
		}
		return out
	}
	return append(out, err)
}
