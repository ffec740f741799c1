package dbs

import "go.uber.org/multierr"

// appendErr accumulates independent failures (delete_volume's per-
// snapshot clear loop) so the caller sees every violation instead of
// just the first.
func appendErr(errs error, err error) error {
	return multierr.Append(errs, err)
}
