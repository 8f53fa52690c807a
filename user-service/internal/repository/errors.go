package repository

import (
	"errors"
	"fmt"

	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

var (
	ErrUserNotFound    = fmt.Errorf("user %w", reconcile.ErrNotFound)
	ErrTaskNotFound    = fmt.Errorf("reconciliation task %w", reconcile.ErrNotFound)
	ErrVersionConflict = reconcile.ErrVersionConflict
	ErrEmailExists     = errors.New("email already exists")
)
