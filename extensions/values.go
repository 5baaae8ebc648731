package extensions

import (
	"github.com/Shopify/go-lua"
	"github.com/Shopify/goluago/util"
)

// goValue converts the Lua value at index to a Go value. Tables become maps
// or slices, userdata is returned as is and functions become nil.
func goValue(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return n
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeTable:
		value, err := util.PullTable(l, l.AbsIndex(index))
		if err != nil {
			return nil
		}
		return value
	case lua.TypeUserData, lua.TypeLightUserData:
		return l.ToUserData(index)
	default:
		return nil
	}
}
