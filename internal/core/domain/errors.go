package domain

import "errors"

var (
	ErrDuplicateID          = errors.New("duplicate id")
	ErrNoAvailableUnits     = errors.New("no available capacity units")
	ErrNoAvailableStreamIDs = errors.New("no available SCTP stream ids")
)
