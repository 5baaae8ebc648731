package extensions

import (
	"encoding/json"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/Shopify/goluago/util"
)

// jsonLibrary returns the JSON helpers available under `bridge.json`.
func jsonLibrary() []lua.RegistryFunction {
	return []lua.RegistryFunction{
		// encode encodes a Lua value to a JSON string.
		//
		// @param value any The value to encode.
		// @param indent number (optional) Spaces of indentation.
		// @return string The JSON text.
		{Name: "encode", Function: func(l *lua.State) int {
			value := goValue(l, 2)
			indent := lua.OptInteger(l, 3, 0)

			var encoded []byte
			var err error
			if indent > 0 {
				encoded, err = json.MarshalIndent(value, "", strings.Repeat(" ", indent))
			} else {
				encoded, err = json.Marshal(value)
			}
			if err != nil {
				lua.Errorf(l, "marshalling json: %s", err.Error())
				return 0
			}
			l.PushString(string(encoded))
			return 1
		}},
		// decode decodes a JSON string to a Lua value.
		//
		// @param input string The JSON text.
		// @return any The decoded value.
		{Name: "decode", Function: func(l *lua.State) int {
			var decoded any
			if err := json.Unmarshal([]byte(lua.CheckString(l, 2)), &decoded); err != nil {
				lua.Errorf(l, "unmarshalling json: %s", err.Error())
				return 0
			}
			util.DeepPush(l, decoded)
			return 1
		}},
	}
}

// decodeJSON decodes raw, returning an empty object for empty or invalid input.
func decodeJSON(raw []byte) any {
	var decoded any
	if len(raw) == 0 || json.Unmarshal(raw, &decoded) != nil || decoded == nil {
		return map[string]any{}
	}
	return decoded
}
