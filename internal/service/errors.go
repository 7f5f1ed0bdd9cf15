package service

import (
	"errors"
	"fmt"
	"strings"

	"coffeeshop/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	ErrChannelNotFound    = fmt.Errorf("channel %w", repository.ErrNotFound)
	ErrSubscriberNotFound = fmt.Errorf("subscriber %w", repository.ErrNotFound)
	ErrMessageNotFound    = fmt.Errorf("message %w", repository.ErrNotFound)

	ErrConflict = errors.New("conflict")
)

// ConflictError - удаление запрещено политикой. Allow перечисляет методы,
// которые ресурс всё ещё принимает.
type ConflictError struct {
	Entity string
	Reason string
	Allow  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s cannot be deleted: %s", e.Entity, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) AllowHeader() string { return strings.Join(e.Allow, ", ") }

// mapNotFound подменяет общий ErrNotFound хранилища на ошибку конкретной сущности.
func mapNotFound(err, target error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return target
	}
	return err
}
