package clickhouse

import "sleepdx/pkg/errors"

var errBufferFull = errors.Wrap(errors.ErrUnavailable, "audit buffer full")
