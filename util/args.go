package util

import (
	"strconv"
	"strings"
)

// KeywordArgs collects name=value arguments. Later values win.
func KeywordArgs(args []string) map[string]string {
	ret := map[string]string{}
	for _, arg := range args {
		p := strings.SplitN(arg, "=", 2)
		if len(p) == 2 {
			ret[p[0]] = p[1]
		}
	}
	return ret
}

// ParseArg converts numbers to float64 and true/false to bool, as JSON
// would decode them.
func ParseArg(value string) interface{} {
	if num, err := strconv.ParseFloat(value, 64); err == nil {
		return num
	}
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

// ParseArgs splits args into positional arguments, in order, and typed
// name=value fields.
func ParseArgs(args []string) ([]string, map[string]interface{}) {
	var positional []string
	for _, arg := range args {
		if !strings.Contains(arg, "=") {
			positional = append(positional, arg)
		}
	}
	fields := map[string]interface{}{}
	for field, value := range KeywordArgs(args) {
		fields[field] = ParseArg(value)
	}
	return positional, fields
}
