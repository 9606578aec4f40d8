// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Action represents an operation a caller performs on a resource or on a
// single field of a record, one of Read, List
type Action string

// all supported actions
const (
	ActionRead Action = "read"
	ActionList Action = "list"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Action(s)
	switch *a {
	case ActionRead, ActionList:
		return nil
	default:
		return fmt.Errorf("%s is not valid Action", s)
	}
}

