// Package categorize assigns a category and a project to a bank transaction
// using fixed, ordered keyword tables.
package categorize

import (
	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

const (
	// FallbackCategory is used when no table matches.
	FallbackCategory = "Uncategorized"
	// FallbackProject is used when no project keyword matches.
	FallbackProject = "Unassigned"
)

// Result is the outcome of classifying one transaction.
type Result struct {
	Category string
	Project  string
}

// Engine holds the four lookup tables. It has no state beyond them and is
// safe to share.
type Engine struct {
	Subcontractors Table
	Vendors        Table
	PaymentMethods Table
	Projects       Table

	FallbackCategory string
	FallbackProject  string
}

// New returns an engine loaded with the built-in tables.
func New() *Engine {
	return DefaultRules()
}

// Classify derives category and project from the transaction text.
//
// Category precedence is subcontractor, then vendor, then payment method.
// The project comes from its own keyword table and does not depend on which
// category matched.
func (e *Engine) Classify(name, description, paymentHint string) Result {
	res := Result{
		Category: e.fallbackCategory(),
		Project:  e.fallbackProject(),
	}

	if v, ok := e.Subcontractors.Match(name, description); ok {
		res.Category = v
	} else if v, ok := e.Vendors.Match(name, description); ok {
		res.Category = v
	} else if v, ok := e.PaymentMethods.Match(description, paymentHint, name); ok {
		res.Category = v
	}

	if v, ok := e.Projects.Match(name, description); ok {
		res.Project = v
	}

	return res
}

// Apply classifies tx in place.
func (e *Engine) Apply(tx *domain.Transaction) {
	res := e.Classify(tx.Name, tx.Description(), tx.PaymentChannel)
	tx.Category = res.Category
	tx.Project = res.Project
}

func (e *Engine) fallbackCategory() string {
	if e.FallbackCategory == "" {
		return FallbackCategory
	}
	return e.FallbackCategory
}

func (e *Engine) fallbackProject() string {
	if e.FallbackProject == "" {
		return FallbackProject
	}
	return e.FallbackProject
}
