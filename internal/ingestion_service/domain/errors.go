package domain

import "errors"

// ErrMarkerNotFound indicates that no processed_orders row exists for the order.
var ErrMarkerNotFound = errors.New("processed order marker not found")
