package main

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags set on the command line win over the config file.

func overrideString(flags *pflag.FlagSet, name string, dst *string, v string) {
	if flags.Changed(name) {
		*dst = v
	}
}

func overrideInt(flags *pflag.FlagSet, name string, dst *int, v int) {
	if flags.Changed(name) {
		*dst = v
	}
}

func overrideDuration(flags *pflag.FlagSet, name string, dst *time.Duration, v time.Duration) {
	if flags.Changed(name) {
		*dst = v
	}
}
