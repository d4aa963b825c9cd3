package lncfg

import "errors"

// Feed holds the options of the topology feed.
//
//nolint:lll
type Feed struct {
	GraphFile string `long:"graphfile" description:"Path to a channel graph dump in the JSON format of lncli describegraph. The file is read again on every refresh cycle."`
}

// Validate checks that a graph source is configured.
func (f *Feed) Validate() error {
	if f.GraphFile == "" {
		return errors.New("feed.graphfile must be set")
	}

	return nil
}
