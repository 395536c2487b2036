package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Domain errors surfaced to callers.  Handlers translate them into HTTP
// responses; none of them is fatal.
var (
	ErrAlreadyClosed  = errors.New("visit already closed")
	ErrHasDependents  = errors.New("has dependents")
	ErrForbidden      = errors.New("forbidden")
	ErrNoSiteAssigned = errors.New("no site assigned")
	ErrNotFound       = errors.New("not found")
	ErrInvalidLogin   = errors.New("invalid credentials")
)

// NoSiteAssignedMessage is shown to operators whose profile lacks a site.
const NoSiteAssignedMessage = "No tienes una sede asignada. Por favor, contacta con un administrador."

// ValidationError reports malformed or missing input per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// fieldErrors accumulates field problems and yields a *ValidationError
// only when at least one was added.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

func (f fieldErrors) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		f.add(field, "required")
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: map[string]string(f)}
}

func invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// BadgeInUseError identifies the open visit that holds a badge at a site.
type BadgeInUseError struct {
	Badge     string
	VisitID   uint64
	FirstName string
	LastName  string
	SiteID    uint64
	SiteName  string
	EntryAt   time.Time
}

func (e *BadgeInUseError) Error() string {
	return fmt.Sprintf("badge %s in use at site %d by visit %d", e.Badge, e.SiteID, e.VisitID)
}

// Message renders the operator-facing explanation.
func (e *BadgeInUseError) Message() string {
	return fmt.Sprintf("La tarjeta #%s ya está en uso por %s %s desde %s a las %s. "+
		"Debe registrar la salida antes de volver a usar esta tarjeta en esta sede.",
		e.Badge, e.FirstName, e.LastName, e.EntryAt.Format("02/01/2006"), e.EntryAt.Format("15:04"))
}

// DependentsError carries how many rows block a deletion.  It matches
// ErrHasDependents under errors.Is.
type DependentsError struct {
	Entity string
	Count  int
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("%s has %d dependent records", e.Entity, e.Count)
}

func (e *DependentsError) Is(target error) bool { return target == ErrHasDependents }

// NotFoundError names the missing entity.  It matches ErrNotFound under
// errors.Is.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string { return e.Entity + " not found" }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func notFound(entity string) error { return &NotFoundError{Entity: entity} }
