// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command vsm serves and renders GoCD value stream maps.
//
// Usage:
//
//	vsm serve --config vsm.yaml
//	vsm serve --port 9090 --debug
//	vsm render --snapshots ./graphs --pipeline build-linux --counter 42
//	vsm render --snapshots ./graphs --material fp --revision abc123 --format mermaid
//	vsm version
//
// Example requests:
//
//	# Map for run 42 of build-linux
//	curl http://localhost:8090/v1/vsm/pipelines/build-linux/42 | jq
//
//	# Same map as a Graphviz graph
//	curl 'http://localhost:8090/v1/vsm/pipelines/build-linux/42?format=dot' | dot -Tsvg > vsm.svg
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
