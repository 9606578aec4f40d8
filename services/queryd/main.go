// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// queryd serves the query API of the resources of a configuration file.
//
// Usage:
//
//	queryd serve --config resquery.yaml
//	queryd explain patient --filter '{"field":"born_gte","value":"-18y"}' --sql
//	queryd filter-fields patient
//	queryd validate
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
