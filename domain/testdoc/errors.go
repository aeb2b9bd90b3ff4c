package testdoc

import "errors"

var (
	errEmptyUID           = errors.New("testdoc: uid must not be empty")
	errEmptyTitle         = errors.New("testdoc: title must not be empty")
	errDuplicateStepIndex = errors.New("testdoc: duplicate step index")
)
