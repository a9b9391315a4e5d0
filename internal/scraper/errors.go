package scraper

import "errors"

var (
	errNilPayload    = errors.New("scraper: upstream client returned nil payload")
	errFetchPanicked = errors.New("scraper: fetch goroutine panicked")
)
