// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"fmt"

	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/resquery/core/pagination"
)

// Settings are the query settings of an engine. They can be read from the
// environment with SettingsFromEnv.
type Settings struct {
	MaxPaginationLimit int  `json:"max_pagination_limit" env:"MAX_PAGINATION_LIMIT,default=100" description:"the maximum page size a client may request"`
	DefaultPageSize    int  `json:"default_page_size" env:"DEFAULT_PAGE_SIZE,default=10" description:"the page size used when a request does not specify one"`
	StrictDates        bool `json:"strict_dates" env:"STRICT_DATES,default=false" description:"reject filters with unresolvable dates instead of matching nothing"`
}

// SettingsFromEnv reads the settings from the environment
func SettingsFromEnv() (Settings, error) {
	var s Settings
	if err := envdecode.Decode(&s); err != nil {
		return s, fmt.Errorf("cannot decode settings: %w", err)
	}
	return s.WithDefaults(), nil
}

// WithDefaults returns s with zero values replaced by the defaults. The
// default page size never exceeds the maximum.
func (s Settings) WithDefaults() Settings {
	if s.MaxPaginationLimit <= 0 {
		s.MaxPaginationLimit = pagination.DefaultMaxLimit
	}
	if s.DefaultPageSize <= 0 {
		s.DefaultPageSize = 10
	}
	if s.DefaultPageSize > s.MaxPaginationLimit {
		s.DefaultPageSize = s.MaxPaginationLimit
	}
	return s
}
