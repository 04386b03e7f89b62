package main

import (
	"fmt"
	"strings"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/version"
)

// printVersion 输出注入的版本信息与内置的缓存策略档位。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "strategies: %s\n", strings.Join(strategy.Keys(), ", "))
}
