// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/sbraz/check-smart/pkg/commands"
)

func main() {
	commands.Execute()
}
