package main

const (
	exitFailure = 1
	exitUsage   = 2
)

type exitError struct {
	code    int
	message string
}

func (e exitError) Error() string {
	return e.message
}

func usageError(message string) error {
	return exitError{code: exitUsage, message: message}
}
