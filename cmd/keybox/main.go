// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-keybox/internal/cli"
	"github.com/jeremyhahn/go-keybox/pkg/gate"
)

// Exit codes.
const (
	exitError   = 1
	exitRefused = 3
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, gate.ErrRefused) {
			os.Exit(exitRefused)
		}
		os.Exit(exitError)
	}
}
