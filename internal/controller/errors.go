package controller

import "errors"

var ErrMissingFields = errors.New("name and room code are required")
