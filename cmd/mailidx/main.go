// Package main provides the entry point for the mailidx CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Aman-CERP/mailidx/cmd/mailidx/cmd"
	merrors "github.com/Aman-CERP/mailidx/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var me *merrors.MailError
		if errors.As(err, &me) && me.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", me.Suggestion)
		}
		os.Exit(1)
	}
}
