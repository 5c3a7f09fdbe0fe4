package relmem

// Transaction runs fn inside a BEGIN/COMMIT block bound to e, rolling
// back if fn returns an error or its commit is rejected by a
// conflict. Go has no generic methods, so this is a package-level
// function rather than a method on Engine.
func Transaction[T any](e *Engine, fn func(tx *Engine) (T, error)) (T, error) {
	var zero T
	if err := e.session.Begin(); err != nil {
		return zero, err
	}

	result, err := fn(e)
	if err != nil {
		_ = e.session.Rollback()
		return zero, err
	}

	if err := e.session.Commit(); err != nil {
		_ = e.session.Rollback()
		return zero, err
	}
	return result, nil
}
