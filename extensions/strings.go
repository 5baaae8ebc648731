package extensions

import (
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/Shopify/goluago/util"
)

// stringsLibrary returns the string helpers available under `bridge.strings`.
// The Lua string library is not opened in the sandbox.
func stringsLibrary() []lua.RegistryFunction {
	return []lua.RegistryFunction{
		// upper converts a string to uppercase.
		{Name: "upper", Function: func(l *lua.State) int {
			l.PushString(strings.ToUpper(lua.CheckString(l, 2)))
			return 1
		}},
		// lower converts a string to lowercase.
		{Name: "lower", Function: func(l *lua.State) int {
			l.PushString(strings.ToLower(lua.CheckString(l, 2)))
			return 1
		}},
		// len returns the length of a string in bytes.
		{Name: "len", Function: func(l *lua.State) int {
			l.PushInteger(len(lua.CheckString(l, 2)))
			return 1
		}},
		// contains reports whether the string contains a substring.
		{Name: "contains", Function: func(l *lua.State) int {
			l.PushBoolean(strings.Contains(lua.CheckString(l, 2), lua.CheckString(l, 3)))
			return 1
		}},
		// equal_fold reports whether two strings are equal ignoring case.
		{Name: "equal_fold", Function: func(l *lua.State) int {
			l.PushBoolean(strings.EqualFold(lua.CheckString(l, 2), lua.CheckString(l, 3)))
			return 1
		}},
		// has_prefix reports whether the string starts with a prefix.
		{Name: "has_prefix", Function: func(l *lua.State) int {
			l.PushBoolean(strings.HasPrefix(lua.CheckString(l, 2), lua.CheckString(l, 3)))
			return 1
		}},
		// has_suffix reports whether the string ends with a suffix.
		{Name: "has_suffix", Function: func(l *lua.State) int {
			l.PushBoolean(strings.HasSuffix(lua.CheckString(l, 2), lua.CheckString(l, 3)))
			return 1
		}},
		// split splits a string by a separator and returns a list.
		{Name: "split", Function: func(l *lua.State) int {
			util.DeepPush(l, strings.Split(lua.CheckString(l, 2), lua.CheckString(l, 3)))
			return 1
		}},
		// trim removes leading and trailing whitespace.
		{Name: "trim", Function: func(l *lua.State) int {
			l.PushString(strings.TrimSpace(lua.CheckString(l, 2)))
			return 1
		}},
	}
}
